// Package activation gates task creation behind activation codes with an
// optional usage quota.
package activation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"enrollassist-backend/internal/components/assert"
	"enrollassist-backend/internal/components/recordstore"
	"enrollassist-backend/internal/components/telemetry"

	"github.com/mazen160/go-random"
)

const (
	report_gate_consume  = "gate.consume"
	report_gate_generate = "gate.generate"
)

// ListName is the record list the codes are kept in.
const ListName = "activation_codes"

// Unlimited marks a code that may be used any number of times.
const Unlimited = -1

const DefaultCodeLength = 12

var (
	ErrUnknownCode = errors.New("unknown activation code")
	ErrExhausted   = errors.New("activation code has no uses left")
)

type Code struct {
	Code      string    `json:"code"`
	Remaining int       `json:"remaining"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Usable reports whether the code can admit another task.
func (c Code) Usable() bool {
	return c.Remaining == Unlimited || c.Remaining > 0
}

// Gate checks and spends activation codes. Every read-modify-write of the
// list happens under one mutex, the store itself has no row-level updates.
type Gate struct {
	store *recordstore.Store
	tel   telemetry.API
	mutex sync.Mutex
}

func NewGate(store *recordstore.Store, tel telemetry.API) *Gate {
	assert.NotNil(store)
	assert.NotNil(tel)
	return &Gate{
		store: store,
		tel:   telemetry.NewScopedAPI("activation", tel),
	}
}

func normalize(code string) string {
	return strings.TrimSpace(code)
}

func find(codes []Code, code string) int {
	for i, c := range codes {
		if c.Code == code {
			return i
		}
	}
	return -1
}

// Admit returns nil if code exists and still has uses left. It does not
// spend a use.
func (g *Gate) Admit(ctx context.Context, code string) error {
	code = normalize(code)
	if code == "" {
		return ErrUnknownCode
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	codes, err := recordstore.Load[Code](ctx, g.store, ListName)
	if err != nil {
		return err
	}
	i := find(codes, code)
	if i < 0 {
		return ErrUnknownCode
	}
	if !codes[i].Usable() {
		return ErrExhausted
	}
	return nil
}

// Consume spends one use of code, unlimited codes are left untouched.
func (g *Gate) Consume(ctx context.Context, code string) error {
	code = normalize(code)

	g.mutex.Lock()
	defer g.mutex.Unlock()

	codes, err := recordstore.Load[Code](ctx, g.store, ListName)
	if err != nil {
		g.tel.ReportBroken(report_gate_consume, err)
		return err
	}
	i := find(codes, code)
	if i < 0 {
		return ErrUnknownCode
	}
	switch {
	case codes[i].Remaining == Unlimited:
		return nil
	case codes[i].Remaining <= 0:
		return ErrExhausted
	}

	codes[i].Remaining--
	err = recordstore.Save(ctx, g.store, ListName, codes)
	if err != nil {
		g.tel.ReportBroken(report_gate_consume, err, code)
		return err
	}
	g.tel.ReportDebug("consumed activation code", code, codes[i].Remaining)
	return nil
}

// Generate creates count new codes with the given number of uses, Unlimited
// for no quota.
func (g *Gate) Generate(ctx context.Context, count, uses int, note string) ([]Code, error) {
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}
	if uses == 0 || uses < Unlimited {
		return nil, fmt.Errorf("uses must be positive or %d for unlimited, got %d", Unlimited, uses)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	codes, err := recordstore.Load[Code](ctx, g.store, ListName)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	created := make([]Code, 0, count)
	for len(created) < count {
		value, err := random.String(DefaultCodeLength)
		if err != nil {
			g.tel.ReportBroken(report_gate_generate, err)
			return nil, err
		}
		if find(codes, value) >= 0 {
			continue
		}
		code := Code{Code: value, Remaining: uses, Note: note, CreatedAt: now}
		codes = append(codes, code)
		created = append(created, code)
	}

	err = recordstore.Save(ctx, g.store, ListName, codes)
	if err != nil {
		g.tel.ReportBroken(report_gate_generate, err)
		return nil, err
	}
	return created, nil
}

// List returns every code in creation order.
func (g *Gate) List(ctx context.Context) ([]Code, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return recordstore.Load[Code](ctx, g.store, ListName)
}

// Revoke removes code entirely.
func (g *Gate) Revoke(ctx context.Context, code string) error {
	code = normalize(code)

	g.mutex.Lock()
	defer g.mutex.Unlock()

	codes, err := recordstore.Load[Code](ctx, g.store, ListName)
	if err != nil {
		return err
	}
	i := find(codes, code)
	if i < 0 {
		return ErrUnknownCode
	}
	codes = append(codes[:i], codes[i+1:]...)
	return recordstore.Save(ctx, g.store, ListName, codes)
}
