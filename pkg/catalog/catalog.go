// Package catalog holds the static boss templates and gear tables.
// Defaults are embedded; a directory of yaml files can override them and is
// watched for changes.
package catalog

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sonastea/questbot/pkg/entity"
	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var dataFS embed.FS

const (
	bossesFile = "bosses.yaml"
	gearFile   = "gear.yaml"
)

type BossTemplate struct {
	ID             string `yaml:"id" json:"id"`
	Name           string `yaml:"name" json:"name"`
	MaxHealth      int    `yaml:"max_health" json:"max_health"`
	RewardCurrency int64  `yaml:"reward_currency" json:"reward_currency"`
	RewardGems     int64  `yaml:"reward_gems" json:"reward_gems"`
	Weight         int    `yaml:"weight" json:"weight"`
}

type Weapon struct {
	ID         string  `yaml:"id" json:"id"`
	Name       string  `yaml:"name" json:"name"`
	Attack     int     `yaml:"attack" json:"attack"`
	CritChance float64 `yaml:"crit_chance" json:"crit_chance"`
}

type Armor struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Defense int    `yaml:"defense" json:"defense"`
}

// Loadout is a user's combat stats with equipped gear applied.
type Loadout struct {
	Attack     int     `json:"attack"`
	Defense    int     `json:"defense"`
	CritChance float64 `json:"crit_chance"`
}

type bossSpec struct {
	Bosses []BossTemplate `yaml:"bosses"`
}

type gearSpec struct {
	Weapons []Weapon `yaml:"weapons"`
	Armor   []Armor  `yaml:"armor"`
}

// Rand is the subset of math/rand/v2 the catalog needs.
type Rand interface {
	IntN(n int) int
}

type Catalog struct {
	mu      sync.RWMutex
	dir     string
	bosses  []BossTemplate
	weapons map[string]Weapon
	armor   map[string]Armor
}

// Load reads the embedded tables, then any overrides found in dir.
// An empty dir uses the embedded tables only.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{dir: dir}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads every table. On error the previous tables stay in place.
func (c *Catalog) Reload() error {
	var bosses bossSpec
	if err := c.loadSpec(bossesFile, &bosses); err != nil {
		return err
	}
	var gear gearSpec
	if err := c.loadSpec(gearFile, &gear); err != nil {
		return err
	}
	if err := validateBosses(bosses.Bosses); err != nil {
		return err
	}

	weapons := make(map[string]Weapon, len(gear.Weapons))
	for _, w := range gear.Weapons {
		weapons[w.ID] = w
	}
	armor := make(map[string]Armor, len(gear.Armor))
	for _, a := range gear.Armor {
		armor[a.ID] = a
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bosses = bosses.Bosses
	c.weapons = weapons
	c.armor = armor
	return nil
}

func (c *Catalog) loadSpec(name string, out any) error {
	data, err := c.read(name)
	if err != nil {
		return fmt.Errorf("catalog: load %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("catalog: unmarshal %s: %w", name, err)
	}
	return nil
}

func (c *Catalog) read(name string) ([]byte, error) {
	if c.dir != "" {
		data, err := os.ReadFile(filepath.Join(c.dir, name))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return dataFS.ReadFile("data/" + name)
}

func validateBosses(bosses []BossTemplate) error {
	if len(bosses) == 0 {
		return fmt.Errorf("catalog: no boss templates defined")
	}
	for i := range bosses {
		b := &bosses[i]
		if b.ID == "" {
			return fmt.Errorf("catalog: boss template %d has no id", i)
		}
		if b.MaxHealth <= 0 {
			return fmt.Errorf("catalog: boss %s must have positive max_health", b.ID)
		}
		if b.Weight <= 0 {
			b.Weight = 1
		}
	}
	return nil
}

// Bosses returns a copy of the boss templates.
func (c *Catalog) Bosses() []BossTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]BossTemplate(nil), c.bosses...)
}

// Boss looks up a template by id.
func (c *Catalog) Boss(id string) (BossTemplate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.bosses {
		if b.ID == id {
			return b, true
		}
	}
	return BossTemplate{}, false
}

// RandomBoss picks a template with probability proportional to its weight.
func (c *Catalog) RandomBoss(r Rand) BossTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, b := range c.bosses {
		total += b.Weight
	}
	pick := r.IntN(total)
	for _, b := range c.bosses {
		if pick < b.Weight {
			return b
		}
		pick -= b.Weight
	}
	return c.bosses[len(c.bosses)-1]
}

func (c *Catalog) Weapon(id string) (Weapon, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.weapons[id]
	return w, ok
}

func (c *Catalog) Armor(id string) (Armor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.armor[id]
	return a, ok
}

// Loadout applies equipped gear to the user's base stats. Crit chance comes
// from the weapon only. Unknown item ids contribute nothing.
func (c *Catalog) Loadout(u *entity.User) Loadout {
	l := Loadout{Attack: u.Attack, Defense: u.Defense}
	if w, ok := c.Weapon(u.WeaponID); ok {
		l.Attack += w.Attack
		l.CritChance = w.CritChance
	}
	if a, ok := c.Armor(u.ArmorID); ok {
		l.Defense += a.Defense
	}
	return l
}
