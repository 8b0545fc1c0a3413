package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidParameter is wrapped by every configuration error.
var ErrInvalidParameter = errors.New("invalid parameter")

// Upper bounds mirrored in the validate tags below.
const (
	MaxWindow  = 10_000
	MaxHistory = 100_000
)

// Params is the full tunable surface of the triple-signal engine. It is
// read-only once a run starts; the optimizer varies it between runs.
type Params struct {
	// Confirmation
	SignalNum int `yaml:"signal_num" default:"2" validate:"oneof=2 3"`

	// Trend
	FastWindow int `yaml:"fast_window" default:"10" validate:"gt=0,lte=10000"`
	SlowWindow int `yaml:"slow_window" default:"20" validate:"gt=0,lte=10000"`

	// Momentum
	RSILength        int     `yaml:"rsi_length" default:"14" validate:"gt=0,lte=10000"`
	RSIBuyLevel      float64 `yaml:"rsi_buy_level" default:"30" validate:"gt=0,lte=100"`
	RSISellLevel     float64 `yaml:"rsi_sell_level" default:"70" validate:"gt=0,lte=100"`
	MACDFastPeriod   int     `yaml:"macd_fast_period" default:"12" validate:"gt=0,lte=10000"`
	MACDSlowPeriod   int     `yaml:"macd_slow_period" default:"26" validate:"gt=0,lte=10000"`
	MACDSignalPeriod int     `yaml:"macd_signal_period" default:"9" validate:"gt=0,lte=10000"`
	KPeriod          int     `yaml:"k_period" default:"14" validate:"gt=0,lte=10000"`
	DPeriod          int     `yaml:"d_period" default:"3" validate:"gt=0,lte=10000"`
	SlowingPeriod    int     `yaml:"slowing_period" default:"3" validate:"gt=0,lte=10000"`
	StochOverbought  float64 `yaml:"stoch_overbought" default:"80" validate:"gt=0,lte=100"`

	// Stop sizing
	ATRLength     int     `yaml:"atr_length" default:"14" validate:"gt=0,lte=10000"`
	ATRMultiplier float64 `yaml:"atr_multiplier" default:"2.5" validate:"gt=0"`

	// Regime gate
	ADXLength    int     `yaml:"adx_length" default:"14" validate:"gt=0,lte=10000"`
	ADXThreshold float64 `yaml:"adx_threshold" default:"20" validate:"gt=0"`

	// Participation gate
	VolumeWindow     int     `yaml:"volume_window" default:"20" validate:"gt=0,lte=10000"`
	VolumeMultiplier float64 `yaml:"volume_multiplier" default:"1.2" validate:"gt=0"`

	// HistorySize is the warm-up window; the bank never keeps fewer bars
	// than the indicators strictly need, whatever this says. Windows are
	// capped at MaxWindow and the history at MaxHistory.
	HistorySize int `yaml:"history_size" default:"200" validate:"gte=0,lte=100000"`

	// Order sizing
	FixedSize       float64 `yaml:"fixed_size" default:"0.01" validate:"gt=0"`
	MaxRiskPerTrade float64 `yaml:"max_risk_per_trade" validate:"gte=0,lte=0.5"` // 0 = use FixedSize
	QtyStep         float64 `yaml:"qty_step" default:"0.0001" validate:"gte=0"`
	QtyPrecision    int     `yaml:"qty_precision" default:"4" validate:"gte=0,lte=12"`
	MinQty          float64 `yaml:"min_qty" validate:"gte=0"`

	// Exit behaviour, all off by default.
	TrailActivationPct float64 `yaml:"trail_activation_pct" validate:"gte=0,lt=1"`
	IntrabarStop       bool    `yaml:"intrabar_stop"`
	ExitOnRSI          bool    `yaml:"exit_on_rsi"`
	ExitOnReversal     bool    `yaml:"exit_on_reversal"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return yamlName(f)
	})
}

// Recommended returns the recommended configuration.
func Recommended() Params {
	var p Params
	if err := defaults.Set(&p); err != nil {
		// The default tags are static; a failure here is a programming error.
		panic(fmt.Sprintf("config: bad default tag: %v", err))
	}
	return p
}

// Validate checks every field against its domain. Values are never
// clamped: the first pass collects all violations and reports them together.
func (p *Params) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, errorMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidParameter, strings.Join(msgs, "; "))
}

func errorMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s (got %v)", field, strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s (got %v)", field, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s (got %v)", field, fe.Param(), fe.Value())
	case "lt":
		return fmt.Sprintf("%s must be less than %s (got %v)", field, fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s (got %v)", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

// FromMap builds Params from a flat name→value mapping on top of the
// recommended configuration. See Overlay.
func FromMap(m map[string]float64) (Params, error) {
	return Overlay(Recommended(), m)
}

// Overlay returns base with every entry of m applied and validates the
// result. Booleans are encoded as 0 / non-zero. An unknown name or a
// fractional value for an integer option is an error.
func Overlay(base Params, m map[string]float64) (Params, error) {
	p := base
	v := reflect.ValueOf(&p).Elem()
	idx := fieldIndex()
	for _, name := range sortedKeys(m) {
		i, ok := idx[name]
		if !ok {
			return Params{}, fmt.Errorf("%w: unknown option %q", ErrInvalidParameter, name)
		}
		if err := setField(v.Field(i), name, m[name]); err != nil {
			return Params{}, err
		}
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// ToMap is the inverse of FromMap.
func (p Params) ToMap() map[string]float64 {
	out := make(map[string]float64)
	v := reflect.ValueOf(p)
	for name, i := range fieldIndex() {
		f := v.Field(i)
		switch f.Kind() {
		case reflect.Int:
			out[name] = float64(f.Int())
		case reflect.Float64:
			out[name] = f.Float()
		case reflect.Bool:
			if f.Bool() {
				out[name] = 1
			} else {
				out[name] = 0
			}
		}
	}
	return out
}

// Load reads a YAML parameter file. Options absent from the file keep
// their recommended values; unknown keys are rejected.
func Load(path string) (Params, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse is Load without the file read.
func Parse(b []byte) (Params, error) {
	p := Recommended()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Params{}, fmt.Errorf("%w: parse config: %v", ErrInvalidParameter, err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

func setField(f reflect.Value, name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%w: %s must be finite", ErrInvalidParameter, name)
	}
	switch f.Kind() {
	case reflect.Int:
		if val != math.Trunc(val) {
			return fmt.Errorf("%w: %s must be an integer (got %v)", ErrInvalidParameter, name, val)
		}
		if math.Abs(val) > math.MaxInt32 {
			return fmt.Errorf("%w: %s is out of range (got %v)", ErrInvalidParameter, name, val)
		}
		f.SetInt(int64(val))
	case reflect.Float64:
		f.SetFloat(val)
	case reflect.Bool:
		f.SetBool(val != 0)
	default:
		return fmt.Errorf("%w: %s has unsupported kind %s", ErrInvalidParameter, name, f.Kind())
	}
	return nil
}

func yamlName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

var paramsIndex map[string]int

func init() {
	t := reflect.TypeOf(Params{})
	paramsIndex = make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if name := yamlName(t.Field(i)); name != "" {
			paramsIndex[name] = i
		}
	}
}

func fieldIndex() map[string]int { return paramsIndex }

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
