package game

import (
	"context"
	"log"
)

type Type string

// The platform offers several provably-fair games. Only the crash
// engine lives in this process; the single-shot games (cases, mines,
// plinko) are served elsewhere and register here when embedded.
const (
	TypeCrash  Type = "crash"
	TypeCases  Type = "cases"
	TypeMines  Type = "mines"
	TypePlinko Type = "plinko"
)

// Engine is a long-running game lifecycle owned by this process.
type Engine interface {
	Type() Type
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Registry holds the engines of this process and drives their
// lifecycle together.
type Registry struct {
	engines map[Type]Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[Type]Engine)}
}

func (r *Registry) Register(e Engine) {
	r.engines[e.Type()] = e
}

func (r *Registry) Get(t Type) (Engine, bool) {
	e, ok := r.engines[t]
	return e, ok
}

func (r *Registry) StartAll(ctx context.Context) error {
	for t, e := range r.engines {
		if err := e.Start(ctx); err != nil {
			return err
		}
		log.Printf("[REGISTRY] Started %s engine", t)
	}
	return nil
}

func (r *Registry) StopAll(ctx context.Context) error {
	for t, e := range r.engines {
		if err := e.Stop(ctx); err != nil {
			return err
		}
		log.Printf("[REGISTRY] Stopped %s engine", t)
	}
	return nil
}
