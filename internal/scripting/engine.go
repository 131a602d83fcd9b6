// Package scripting wraps a gopher-lua VM that renders narrative text: pain
// messages, death notices, and event phrasing. Keeping the wording in Lua
// lets operators retune the city's voice without a rebuild.
package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM.
// Single-goroutine access only (game loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory. A missing directory is not an error; every lookup has a Go
// fallback so the server runs scriptless.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

func (e *Engine) Close() {
	e.vm.Close()
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// PainText renders the first-person pain line for a need source at an
// intensity tier ("mild", "severe", "agony").
func (e *Engine) PainText(source, intensity string, value float64) string {
	fn := e.vm.GetGlobal("pain_text")
	if fn == lua.LNil {
		return fallbackPain(source, intensity)
	}
	err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true},
		lua.LString(source), lua.LString(intensity), lua.LNumber(value))
	if err != nil {
		e.log.Error("pain_text failed", zap.Error(err))
		return fallbackPain(source, intensity)
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	if s, ok := ret.(lua.LString); ok && s != "" {
		return string(s)
	}
	return fallbackPain(source, intensity)
}

// DeathText renders the final message delivered with a death frame.
func (e *Engine) DeathText(cause string) string {
	fn := e.vm.GetGlobal("death_text")
	if fn == lua.LNil {
		return fallbackDeath(cause)
	}
	err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(cause))
	if err != nil {
		e.log.Error("death_text failed", zap.Error(err))
		return fallbackDeath(cause)
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	if s, ok := ret.(lua.LString); ok && s != "" {
		return string(s)
	}
	return fallbackDeath(cause)
}

// EventText renders a third-person line for the public feed. Returns ""
// when neither the script nor the fallback phrases the kind.
func (e *Engine) EventText(kind, name string) string {
	fn := e.vm.GetGlobal("event_text")
	if fn == lua.LNil {
		return fallbackEvent(kind, name)
	}
	err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true},
		lua.LString(kind), lua.LString(name))
	if err != nil {
		e.log.Error("event_text failed", zap.Error(err))
		return fallbackEvent(kind, name)
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	if s, ok := ret.(lua.LString); ok && s != "" {
		return string(s)
	}
	return fallbackEvent(kind, name)
}

func fallbackPain(source, intensity string) string {
	switch intensity {
	case "agony":
		return "Your " + source + " is unbearable."
	case "severe":
		return "Your " + source + " is getting serious."
	default:
		return "You feel " + source + " creeping in."
	}
}

func fallbackEvent(kind, name string) string {
	switch kind {
	case "arrival":
		return name + " stepped off the train."
	case "death":
		return name + " was found dead."
	case "arrest":
		return name + " was arrested."
	case "book_suspect":
		return name + " was booked at the police station."
	case "released":
		return name + " was released from the police station."
	case "depart":
		return name + " boarded the train and left the city."
	case "write_petition":
		return name + " posted a petition at city hall."
	case "process_body":
		return "The body of " + name + " was brought to the mortuary."
	default:
		return ""
	}
}

func fallbackDeath(cause string) string {
	switch cause {
	case "starvation":
		return "Your body gives out. The hunger wins."
	case "dehydration":
		return "The world dries up around you. The thirst wins."
	default:
		return "Everything goes quiet."
	}
}
