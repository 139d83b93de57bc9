package identity

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smartcontractkit/govbench/pkg/logger"
)

var (
	// ErrUnknownIdentity is returned for an address or label that is not in the pool.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrReservationDone is returned when a reservation is finished twice.
	ErrReservationDone = errors.New("reservation already finished")
)

// ChainState is the remote state the pool reads.
type ChainState interface {
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
}

// slot owns the nonce of one identity. The nonce fields may only be touched while holding sem.
type slot struct {
	id  *Identity
	sem chan struct{}

	nonce  uint64
	synced bool
}

func (s *slot) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to acquire nonce of %s: %w", s.id, ctx.Err())
	}
}

func (s *slot) release() {
	<-s.sem
}

// Pool is a fixed set of identities with locally tracked nonces. A nonce is read from the
// chain the first time an identity is used and advanced locally afterwards. Each identity has
// at most one outstanding Reservation, so transactions from the same identity never share a
// nonce.
type Pool struct {
	state ChainState
	lggr  logger.Logger

	order   []*Identity
	byAddr  map[common.Address]*slot
	byLabel map[string]*slot
}

// NewPool builds a pool over ids. Labels and addresses must be unique.
func NewPool(lggr logger.Logger, state ChainState, ids ...*Identity) (*Pool, error) {
	p := &Pool{
		state:   state,
		lggr:    lggr.Named("identity"),
		byAddr:  make(map[common.Address]*slot, len(ids)),
		byLabel: make(map[string]*slot, len(ids)),
	}

	for _, id := range ids {
		if _, ok := p.byAddr[id.Address]; ok {
			return nil, fmt.Errorf("duplicate identity address %s", id.Address.Hex())
		}
		if _, ok := p.byLabel[id.Label]; ok {
			return nil, fmt.Errorf("duplicate identity label %q", id.Label)
		}

		s := &slot{id: id, sem: make(chan struct{}, 1)}
		p.byAddr[id.Address] = s
		p.byLabel[id.Label] = s
		p.order = append(p.order, id)
	}

	return p, nil
}

// Len returns the number of identities.
func (p *Pool) Len() int {
	return len(p.order)
}

// Identities returns the identities in insertion order.
func (p *Pool) Identities() []*Identity {
	return append([]*Identity(nil), p.order...)
}

// Get resolves an identity by label or by hex address.
func (p *Pool) Get(ref string) (*Identity, error) {
	if s, ok := p.byLabel[ref]; ok {
		return s.id, nil
	}
	if common.IsHexAddress(ref) {
		if s, ok := p.byAddr[common.HexToAddress(ref)]; ok {
			return s.id, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownIdentity, ref)
}

// Range returns count identities starting at index from. A count of zero means all remaining
// identities.
func (p *Pool) Range(from, count int) ([]*Identity, error) {
	if from < 0 || from > len(p.order) {
		return nil, fmt.Errorf("range start %d out of bounds [0, %d]", from, len(p.order))
	}
	end := len(p.order)
	if count > 0 {
		end = from + count
	}
	if end > len(p.order) {
		return nil, fmt.Errorf("range %d+%d exceeds pool size %d", from, count, len(p.order))
	}

	return append([]*Identity(nil), p.order[from:end]...), nil
}

func (p *Pool) slot(addr common.Address) (*slot, error) {
	s, ok := p.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, addr.Hex())
	}

	return s, nil
}

// sync loads the remote nonce the first time a slot is used. Callers hold s.sem.
func (p *Pool) sync(ctx context.Context, s *slot) error {
	if s.synced {
		return nil
	}

	n, err := p.state.PendingNonce(ctx, s.id.Address)
	if err != nil {
		return fmt.Errorf("failed to fetch nonce of %s: %w", s.id, err)
	}
	s.nonce, s.synced = n, true
	p.lggr.Debugw("Fetched nonce", "identity", s.id.Label, "nonce", n)

	return nil
}

// NextNonce returns the nonce the next transaction from addr will use.
func (p *Pool) NextNonce(ctx context.Context, addr common.Address) (uint64, error) {
	s, err := p.slot(addr)
	if err != nil {
		return 0, err
	}
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()

	if err := p.sync(ctx, s); err != nil {
		return 0, err
	}

	return s.nonce, nil
}

// MarkUsed advances the local nonce of addr by one. It waits while a Reservation for addr is
// outstanding, until ctx is done. Has no effect on an identity whose nonce has not been fetched yet.
func (p *Pool) MarkUsed(ctx context.Context, addr common.Address) error {
	s, err := p.slot(addr)
	if err != nil {
		return err
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.synced {
		s.nonce++
	}

	return nil
}

// Balance returns the latest balance of addr.
func (p *Pool) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if _, err := p.slot(addr); err != nil {
		return nil, err
	}

	bal, err := p.state.Balance(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance of %s: %w", addr.Hex(), err)
	}

	return bal, nil
}

// Reserve takes exclusive use of addr's next nonce, waiting for any outstanding reservation of
// the same identity. The reservation must be finished with Commit, Release or Resync.
func (p *Pool) Reserve(ctx context.Context, addr common.Address) (*Reservation, error) {
	s, err := p.slot(addr)
	if err != nil {
		return nil, err
	}
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	if err := p.sync(ctx, s); err != nil {
		s.release()

		return nil, err
	}

	return &Reservation{pool: p, slot: s, nonce: s.nonce}, nil
}

// Reservation is the exclusive right to send one transaction with Nonce from Identity.
type Reservation struct {
	pool  *Pool
	slot  *slot
	nonce uint64

	mu   sync.Mutex
	done bool
}

// Identity returns the identity the nonce belongs to.
func (r *Reservation) Identity() *Identity {
	return r.slot.id
}

// Nonce returns the reserved nonce.
func (r *Reservation) Nonce() uint64 {
	return r.nonce
}

func (r *Reservation) finish(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return ErrReservationDone
	}
	r.done = true
	fn()
	r.slot.release()

	return nil
}

// Commit marks the nonce as consumed by an included transaction.
func (r *Reservation) Commit() error {
	return r.finish(func() {
		r.slot.nonce = r.nonce + 1
	})
}

// Release returns the nonce unused, for calls that were never broadcast.
func (r *Reservation) Release() error {
	return r.finish(func() {})
}

// Resync replaces the local nonce with the chain's pending nonce. It is used when the local
// value is suspected wrong or a broadcast transaction's fate is unknown. When the read fails
// the nonce is fetched again on next use.
func (r *Reservation) Resync(ctx context.Context) error {
	var syncErr error
	err := r.finish(func() {
		n, err := r.pool.state.PendingNonce(ctx, r.slot.id.Address)
		if err != nil {
			r.slot.synced = false
			syncErr = fmt.Errorf("failed to resync nonce of %s: %w", r.slot.id, err)

			return
		}
		if n != r.slot.nonce {
			r.pool.lggr.Infow("Resynchronized nonce", "identity", r.slot.id.Label, "local", r.slot.nonce, "remote", n)
		}
		r.slot.nonce = n
	})
	if err != nil {
		return err
	}

	return syncErr
}
