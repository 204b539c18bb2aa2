package utils

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// An amount of memory in bytes.
// Configuration values accept both plain integers and
// human readable sizes such as "512MiB" or "2 GB".
type ByteSize uint64

func (s ByteSize) String() string {
	return humanize.IBytes(uint64(s))
}

func ParseByteSize(str string) (ByteSize, error) {
	size, err := humanize.ParseBytes(strings.TrimSpace(str))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return ByteSize(size), nil
}

func StringToBoolHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Bool {
			return data, nil
		}

		str := data.(string)
		switch str {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		default:
			return nil, fmt.Errorf("cannot convert %q to bool", str)
		}
	}
}

func StringToIntHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int {
			return data, nil
		}

		str := data.(string)
		var i int
		_, err := fmt.Sscanf(str, "%d", &i)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to int: %v", str, err)
		}
		return i, nil
	}
}

func StringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		return ParseByteSize(data.(string))
	}
}

// Decode all viper settings into cfg, which must be a pointer to a struct
// with mapstructure tags. Durations, lists, booleans, integers and byte
// sizes given as strings (e.g. from the environment) are converted.
func UnmarshalConfig(v *viper.Viper, cfg interface{}) error {
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		StringToBoolHookFunc(),
		StringToIntHookFunc(),
		StringToByteSizeHookFunc(),
	)

	decoderConfig := &mapstructure.DecoderConfig{
		DecodeHook: hook,
		Result:     cfg,
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return err
	}
	return decoder.Decode(v.AllSettings())
}
