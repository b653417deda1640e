package strategy

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
)

const (
	defaultQueueSize = 256

	orderIDRangeBits = 40
	// OrderIDRange is how many order ids one strategy may allocate.
	OrderIDRange = uint64(1) << orderIDRangeBits
	maxClientID  = 1<<(64-orderIDRangeBits) - 1
)

// preferredClientID keeps the client ids the engine has always used for its two policies.
var preferredClientID = map[string]uint32{
	TypeSpreadCapture:    1,
	TypeQuoteMaintenance: 2,
}

// Definition is one strategy instance entry in the YAML file.
type Definition struct {
	ID          string                 `yaml:"id"`
	Type        string                 `yaml:"type"`
	Symbols     []string               `yaml:"symbols"`
	ClientID    uint32                 `yaml:"client_id"`
	OrderIDBase uint64                 `yaml:"order_id_base"`
	QueueSize   int                    `yaml:"queue_size"`
	Parameters  map[string]interface{} `yaml:"parameters"`
	Disabled    bool                   `yaml:"disabled"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Definition `yaml:"strategies"`
}

// LoadConfig reads strategy definitions from a YAML file and fills defaults.
// fallbackSymbols is used for definitions that list no symbols of their own.
func LoadConfig(path string, fallbackSymbols []string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read strategy config %s", path)
	}
	return ParseConfig(data, fallbackSymbols)
}

// ParseConfig decodes YAML strategy definitions. Disabled entries are dropped.
func ParseConfig(data []byte, fallbackSymbols []string) ([]Definition, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(exception.ErrInvalidConfig, "strategy config: %v", err)
	}

	seen := make(map[string]bool, len(file.Strategies))
	defs := make([]Definition, 0, len(file.Strategies))
	for _, def := range file.Strategies {
		if def.Disabled {
			continue
		}
		if seen[def.ID] {
			return nil, errors.Wrapf(exception.ErrInvalidConfig, "strategy %s defined twice", def.ID)
		}
		seen[def.ID] = true
		def.applyDefaults(fallbackSymbols)
		defs = append(defs, def)
	}
	return finalize(defs)
}

// DefaultDefinitions runs one instance of each policy over symbols, for when no
// strategy file exists.
func DefaultDefinitions(symbols []string) []Definition {
	defs := []Definition{
		{ID: "arbitrage", Type: TypeSpreadCapture},
		{ID: "market_making", Type: TypeQuoteMaintenance},
	}
	for i := range defs {
		defs[i].applyDefaults(symbols)
		defs[i].ClientID = preferredClientID[defs[i].Type]
		defs[i].OrderIDBase = OrderIDBaseFor(defs[i].ClientID)
	}
	return defs
}

// OrderIDBaseFor is the default first order id of a client. Every client owns
// OrderIDRange ids from there, so strategies sharing one matching service never
// hand out the same id.
func OrderIDBaseFor(clientID uint32) uint64 {
	return uint64(clientID) << orderIDRangeBits
}

func (d *Definition) applyDefaults(fallbackSymbols []string) {
	if len(d.Symbols) == 0 {
		d.Symbols = append([]string(nil), fallbackSymbols...)
	}
	if d.QueueSize <= 0 {
		d.QueueSize = defaultQueueSize
	}
}

// finalize assigns missing client ids and order id bases, validates every
// definition and rejects client ids or id ranges shared by two strategies.
func finalize(defs []Definition) ([]Definition, error) {
	taken := make(map[uint32]string, len(defs))
	for _, def := range defs {
		if def.ClientID == 0 {
			continue
		}
		if other, dup := taken[def.ClientID]; dup {
			return nil, errors.Wrapf(exception.ErrInvalidConfig, "strategies %s and %s share client_id %d", other, def.ID, def.ClientID)
		}
		taken[def.ClientID] = def.ID
	}

	next := uint32(len(preferredClientID) + 1)
	for i := range defs {
		def := &defs[i]
		if def.ClientID == 0 {
			pref, ok := preferredClientID[def.Type]
			if _, used := taken[pref]; ok && !used {
				def.ClientID = pref
			} else {
				for {
					if _, used := taken[next]; !used {
						break
					}
					next++
				}
				def.ClientID = next
			}
			taken[def.ClientID] = def.ID
		}
		if def.OrderIDBase == 0 && def.ClientID <= maxClientID {
			def.OrderIDBase = OrderIDBaseFor(def.ClientID)
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}

	byBase := make([]Definition, len(defs))
	copy(byBase, defs)
	sort.Slice(byBase, func(i, j int) bool { return byBase[i].OrderIDBase < byBase[j].OrderIDBase })
	for i := 1; i < len(byBase); i++ {
		prev, cur := byBase[i-1], byBase[i]
		if cur.OrderIDBase-prev.OrderIDBase < OrderIDRange {
			return nil, errors.Wrapf(exception.ErrInvalidConfig,
				"strategies %s and %s: order id ranges overlap (bases %d and %d, each owns %d ids)",
				prev.ID, cur.ID, prev.OrderIDBase, cur.OrderIDBase, uint64(OrderIDRange))
		}
	}
	return defs, nil
}

// Validate checks the fields every runner needs. Policy parameters are checked by Build.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.Wrap(exception.ErrInvalidConfig, "strategy: missing id")
	}
	if len(d.Symbols) == 0 {
		return errors.Wrapf(exception.ErrEmptySymbolSet, "strategy %s", d.ID)
	}
	switch d.Type {
	case TypeSpreadCapture, TypeQuoteMaintenance:
	default:
		return errors.Wrapf(exception.ErrInvalidConfig, "strategy %s: unknown type %q", d.ID, d.Type)
	}
	if d.ClientID == 0 || d.ClientID > maxClientID {
		return errors.Wrapf(exception.ErrInvalidConfig, "strategy %s: client_id must be in 1..%d", d.ID, maxClientID)
	}
	if d.OrderIDBase == 0 {
		return errors.Wrapf(exception.ErrInvalidConfig, "strategy %s: order_id_base must be positive", d.ID)
	}
	return nil
}

// Build constructs the policy a definition names.
func Build(def Definition) (Policy, error) {
	switch def.Type {
	case TypeSpreadCapture:
		cfg := DefaultSpreadCaptureConfig()
		var err error
		if cfg.Threshold, err = paramDecimal(def.Parameters, "threshold", cfg.Threshold); err != nil {
			return nil, errors.Wrapf(err, "strategy %s", def.ID)
		}
		if cfg.MaxPosition, err = paramInt(def.Parameters, "max_position", cfg.MaxPosition); err != nil {
			return nil, errors.Wrapf(err, "strategy %s", def.ID)
		}
		if cfg.Size, err = paramInt(def.Parameters, "size", cfg.Size); err != nil {
			return nil, errors.Wrapf(err, "strategy %s", def.ID)
		}
		p, err := NewSpreadCapture(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "strategy %s", def.ID)
		}
		return p, nil

	case TypeQuoteMaintenance:
		cfg := DefaultQuoteMaintenanceConfig()
		var err error
		if cfg.K, err = paramDecimal(def.Parameters, "k", cfg.K); err != nil {
			return nil, errors.Wrapf(err, "strategy %s", def.ID)
		}
		if cfg.Size, err = paramInt(def.Parameters, "size", cfg.Size); err != nil {
			return nil, errors.Wrapf(err, "strategy %s", def.ID)
		}
		p, err := NewQuoteMaintenance(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "strategy %s", def.ID)
		}
		return p, nil

	default:
		return nil, errors.Wrapf(exception.ErrInvalidConfig, "strategy %s: unknown type %q", def.ID, def.Type)
	}
}

func paramDecimal(params map[string]interface{}, key string, def decimal.Decimal) (decimal.Decimal, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return def, errors.Wrapf(exception.ErrInvalidConfig, "parameter %s: %v", key, err)
		}
		return d, nil
	default:
		return def, errors.Wrapf(exception.ErrInvalidConfig, "parameter %s: unsupported value %v", key, raw)
	}
}

func paramInt(params map[string]interface{}, key string, def int64) (int64, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return def, errors.Wrapf(exception.ErrInvalidConfig, "parameter %s: %v is not whole", key, v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return def, errors.Wrapf(exception.ErrInvalidConfig, "parameter %s: %v", key, err)
		}
		return n, nil
	default:
		return def, errors.Wrapf(exception.ErrInvalidConfig, "parameter %s: unsupported value %s", key, fmt.Sprint(raw))
	}
}
