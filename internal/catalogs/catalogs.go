package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Block classes the rules care about.
const (
	ClassNone       = ""
	ClassReactor    = "reactor"
	ClassGenerator  = "generator"
	ClassStorage    = "storage"
	ClassVault      = "vault"
	ClassSorter     = "sorter"
	ClassMassDriver = "mass_driver"
	ClassMessage    = "message"
)

const Air = "air"

type Catalogs struct {
	Blocks  BlockCatalog
	Items   ItemCatalog
	Liquids LiquidCatalog
}

type BlockCatalog struct {
	Defs   map[string]BlockDef
	Digest string
}

type BlockDef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Class string `json:"class,omitempty"`
	Size  int    `json:"size,omitempty"`
}

type ItemCatalog struct {
	// Palette order defines the numeric item ids used in sorter config values.
	Palette []string
	Defs    map[string]ItemDef
	Digest  string
}

type ItemDef struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Color         string  `json:"color"` // hex rgb, e.g. "f9a3c7"
	Explosiveness float64 `json:"explosiveness"`
	Flammability  float64 `json:"flammability"`
}

type LiquidCatalog struct {
	Defs   map[string]LiquidDef
	Digest string
}

type LiquidDef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Coolant bool   `json:"coolant"`
}

// Load reads blocks.json, items.json and liquids.json from configDir. Missing files fall
// back to the built-in definitions for that catalog.
func Load(configDir string) (*Catalogs, error) {
	c := Defaults()
	if configDir == "" {
		return c, nil
	}
	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), &c.Blocks); err != nil {
		return nil, err
	}
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	if err := loadLiquids(filepath.Join(configDir, "liquids.json"), &c.Liquids); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalogs) Block(id string) (BlockDef, bool) {
	d, ok := c.Blocks.Defs[id]
	return d, ok
}

func (c *Catalogs) Item(id string) (ItemDef, bool) {
	d, ok := c.Items.Defs[id]
	return d, ok
}

// ItemByIndex resolves a palette index (sorter config value).
func (c *Catalogs) ItemByIndex(i int) (ItemDef, bool) {
	if i < 0 || i >= len(c.Items.Palette) {
		return ItemDef{}, false
	}
	return c.Item(c.Items.Palette[i])
}

func (c *Catalogs) Liquid(id string) (LiquidDef, bool) {
	d, ok := c.Liquids.Defs[id]
	return d, ok
}

// Class returns the rule class of a block id ("" for unknown blocks).
func (c *Catalogs) Class(id string) string {
	return c.Blocks.Defs[id].Class
}

// BlockName falls back to the id when the block is unknown.
func (c *Catalogs) BlockName(id string) string {
	if d, ok := c.Blocks.Defs[id]; ok && d.Name != "" {
		return d.Name
	}
	return id
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func readOptional(path string) ([]byte, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func loadBlocks(path string, out *BlockCatalog) error {
	raw, ok, err := readOptional(path)
	if err != nil || !ok {
		return err
	}
	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	out.Defs = map[string]BlockDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("blocks.json: empty id")
		}
		if d.Size <= 0 {
			d.Size = 1
		}
		out.Defs[d.ID] = d
	}
	if _, ok := out.Defs[Air]; !ok {
		return fmt.Errorf("blocks.json: missing %s", Air)
	}
	out.Digest = sha256Hex(raw)
	return nil
}

func loadItems(path string, out *ItemCatalog) error {
	raw, ok, err := readOptional(path)
	if err != nil || !ok {
		return err
	}
	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = map[string]ItemDef{}
	out.Palette = out.Palette[:0]
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("items.json: duplicate id %s", d.ID)
		}
		out.Defs[d.ID] = d
		// File order is the palette order.
		out.Palette = append(out.Palette, d.ID)
	}
	out.Digest = sha256Hex(raw)
	return nil
}

func loadLiquids(path string, out *LiquidCatalog) error {
	raw, ok, err := readOptional(path)
	if err != nil || !ok {
		return err
	}
	var defs []LiquidDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("liquids.json: %w", err)
	}
	out.Defs = map[string]LiquidDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("liquids.json: empty id")
		}
		out.Defs[d.ID] = d
	}
	out.Digest = sha256Hex(raw)
	return nil
}

// Defaults is the built-in content set (a subset of the stock game content).
func Defaults() *Catalogs {
	blocks := []BlockDef{
		{ID: Air, Name: "air", Size: 1},
		{ID: "conveyor", Name: "conveyor", Size: 1},
		{ID: "thorium-reactor", Name: "thorium-reactor", Class: ClassReactor, Size: 3},
		{ID: "combustion-generator", Name: "combustion-generator", Class: ClassGenerator, Size: 1},
		{ID: "turbine-generator", Name: "turbine-generator", Class: ClassGenerator, Size: 2},
		{ID: "container", Name: "container", Class: ClassStorage, Size: 2},
		{ID: "vault", Name: "vault", Class: ClassVault, Size: 3},
		{ID: "sorter", Name: "sorter", Class: ClassSorter, Size: 1},
		{ID: "mass-driver", Name: "mass-driver", Class: ClassMassDriver, Size: 3},
		{ID: "message", Name: "message", Class: ClassMessage, Size: 1},
		{ID: "core-shard", Name: "core-shard", Size: 3},
		{ID: "liquid-tank", Name: "liquid-tank", Size: 3},
	}
	items := []ItemDef{
		{ID: "copper", Name: "copper", Color: "d99d73"},
		{ID: "lead", Name: "lead", Color: "8c7fa9"},
		{ID: "coal", Name: "coal", Color: "272727", Explosiveness: 0.2, Flammability: 1},
		{ID: "thorium", Name: "thorium", Color: "f9a3c7", Explosiveness: 0.2},
		{ID: "spore-pod", Name: "spore-pod", Color: "7457ce", Flammability: 1.15},
		{ID: "pyratite", Name: "pyratite", Color: "ffaa5f", Explosiveness: 0.4, Flammability: 1.4},
		{ID: "blast-compound", Name: "blast-compound", Color: "ff795e", Explosiveness: 1.2, Flammability: 0.4},
	}
	liquids := []LiquidDef{
		{ID: "water", Name: "water"},
		{ID: "slag", Name: "slag"},
		{ID: "oil", Name: "oil"},
		{ID: "cryofluid", Name: "cryofluid", Coolant: true},
	}

	c := &Catalogs{
		Blocks:  BlockCatalog{Defs: map[string]BlockDef{}},
		Items:   ItemCatalog{Defs: map[string]ItemDef{}},
		Liquids: LiquidCatalog{Defs: map[string]LiquidDef{}},
	}
	for _, d := range blocks {
		c.Blocks.Defs[d.ID] = d
	}
	for _, d := range items {
		c.Items.Defs[d.ID] = d
		c.Items.Palette = append(c.Items.Palette, d.ID)
	}
	for _, d := range liquids {
		c.Liquids.Defs[d.ID] = d
	}
	c.Blocks.Digest = digestOf(blocks)
	c.Items.Digest = digestOf(items)
	c.Liquids.Digest = digestOf(liquids)
	return c
}

func digestOf(v any) string {
	b, _ := json.Marshal(v)
	return sha256Hex(b)
}

// BlockIDs returns the sorted block ids; used for stable catalog dumps.
func (c *Catalogs) BlockIDs() []string {
	ids := make([]string, 0, len(c.Blocks.Defs))
	for id := range c.Blocks.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Catalogs) BlockDefs() []BlockDef {
	out := make([]BlockDef, 0, len(c.Blocks.Defs))
	for _, id := range c.BlockIDs() {
		out = append(out, c.Blocks.Defs[id])
	}
	return out
}

// ItemDefs returns the items in palette order.
func (c *Catalogs) ItemDefs() []ItemDef {
	out := make([]ItemDef, 0, len(c.Items.Palette))
	for _, id := range c.Items.Palette {
		out = append(out, c.Items.Defs[id])
	}
	return out
}

func (c *Catalogs) LiquidDefs() []LiquidDef {
	ids := make([]string, 0, len(c.Liquids.Defs))
	for id := range c.Liquids.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]LiquidDef, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.Liquids.Defs[id])
	}
	return out
}
