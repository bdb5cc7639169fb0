package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type entry struct {
	once  sync.Once
	value any
	err   error
}

var (
	cache     sync.Map // reflect.Type -> *entry
	dotenvRun sync.Once
)

// Load populates v from the environment. The first successful parse of a type is
// cached; later calls for the same type copy the cached value. A failed parse is
// cached as well so a misconfigured process fails consistently.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	dotenvRun.Do(func() { _ = godotenv.Load() })

	key := reflect.TypeFor[T]()
	actual, _ := cache.LoadOrStore(key, &entry{})
	e := actual.(*entry)

	e.once.Do(func() {
		var fresh T
		if err := Parse(&fresh); err != nil {
			e.err = err
			return
		}
		e.value = fresh
	})
	if e.err != nil {
		return e.err
	}

	*v = e.value.(T)
	return nil
}

// MustLoad is Load that panics on error; use it for configuration the binary
// cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

// Parse populates v from the current environment without touching the cache.
func Parse[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// LoadEnv applies the given .env files to the process environment. Variables that
// are already set are not overridden.
func LoadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		return errors.Join(ErrLoadingEnv, err)
	}
	return nil
}
