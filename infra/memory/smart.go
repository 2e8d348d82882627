package memory

import "fmt"

// Handle uniquely owns a value. Releasing it destroys the value through the
// pool that created it; a handle without a pool only runs the destructor.
type Handle[T any] struct {
	value *T
	owner *ObjectPool[T]
}

// Unowned wraps v in a handle that is not bound to any pool.
func Unowned[T any](v *T) Handle[T] {
	return Handle[T]{value: v}
}

// Get returns the managed value, or nil for an empty handle.
func (h Handle[T]) Get() *T { return h.value }

func (h Handle[T]) Valid() bool { return h.value != nil }

// Release destroys the managed value and empties the handle.
// Releasing an empty handle is a no-op.
func (h *Handle[T]) Release() error {
	v, owner := h.value, h.owner
	if v == nil {
		return nil
	}
	h.value, h.owner = nil, nil
	if owner == nil {
		Destruct(v)
		return nil
	}
	return owner.Destroy(v)
}

// Detach empties the handle without destroying the value. The caller
// becomes responsible for it.
func (h *Handle[T]) Detach() *T {
	v := h.value
	h.value, h.owner = nil, nil
	return v
}

// SmartObjectPool hands out values wrapped in Handles.
type SmartObjectPool[T any] struct {
	*ObjectPool[T]
}

func NewSmartObjectPool[T any](pool *ObjectPool[T]) *SmartObjectPool[T] {
	return &SmartObjectPool[T]{ObjectPool: pool}
}

// Make creates a value and returns a handle that destroys it on Release.
func (p *SmartObjectPool[T]) Make(init func(*T) error) (Handle[T], error) {
	v, err := p.Create(init)
	if err != nil {
		return Handle[T]{}, err
	}
	return Handle[T]{value: v, owner: p.ObjectPool}, nil
}

// ---- base-type handles ----

// DeleterContext returns a value to the pool that created it.
type DeleterContext interface {
	destroy(v any) error
}

// DeleterLink must be embedded in values created by a
// SmartBaseTypeObjectPool. It records which pool a value belongs to so that
// ReleaseBase can find it through the base type alone.
type DeleterLink struct {
	ctx DeleterContext
}

func (l *DeleterLink) bindDeleter(ctx DeleterContext) { l.ctx = ctx }
func (l *DeleterLink) deleter() DeleterContext       { return l.ctx }

type deleterCarrier interface {
	bindDeleter(DeleterContext)
	deleter() DeleterContext
}

type poolDeleter[T any] struct {
	pool *ObjectPool[T]
}

func (d *poolDeleter[T]) destroy(v any) error {
	p, ok := v.(*T)
	if !ok {
		return Fail(fmt.Errorf("destroy %T through pool of %T: %w", v, (*T)(nil), ErrInvalidHandle))
	}
	return d.pool.Destroy(p)
}

// unownedDeleter backs values wrapped by UnownedBase: it only runs the
// destructor, then unbinds so a second release is caught.
type unownedDeleter struct{}

func (unownedDeleter) destroy(v any) error {
	if r, ok := v.(Resetter); ok {
		r.Reset()
	}
	v.(deleterCarrier).bindDeleter(nil)
	return nil
}

// ReleaseBase destroys v through the pool recorded in its DeleterLink.
// Values that do not embed DeleterLink only have their Reset hook run.
// A DeleterLink with nothing bound belongs to a value that was already
// released, or never came from a pool; that fails with ErrInvalidHandle.
func ReleaseBase(v any) error {
	if v == nil {
		return nil
	}
	c, ok := v.(deleterCarrier)
	if !ok {
		if r, ok := v.(Resetter); ok {
			r.Reset()
		}
		return nil
	}
	d := c.deleter()
	if d == nil {
		return Fail(fmt.Errorf("release %T: no owning pool: %w", v, ErrInvalidHandle))
	}
	return d.destroy(v)
}

// BaseHandle uniquely owns a value seen through its base type B.
type BaseHandle[B any] struct {
	value B
	held  bool
}

// UnownedBase wraps v in a base handle that only runs the destructor.
func UnownedBase[B any](v B) BaseHandle[B] {
	if c, ok := any(v).(deleterCarrier); ok && c.deleter() == nil {
		c.bindDeleter(unownedDeleter{})
	}
	return BaseHandle[B]{value: v, held: true}
}

func (h BaseHandle[B]) Get() B { return h.value }

func (h BaseHandle[B]) Valid() bool { return h.held }

// Release destroys the managed value and empties the handle.
func (h *BaseHandle[B]) Release() error {
	if !h.held {
		return nil
	}
	v := h.value
	var zero B
	h.value, h.held = zero, false
	return ReleaseBase(v)
}

// SmartBaseTypeObjectPool creates values of concrete type T and hands them
// out as handles of base type B, which *T must implement.
type SmartBaseTypeObjectPool[B any, T any] struct {
	*ObjectPool[T]
	ctx *poolDeleter[T]
}

// NewSmartBaseTypeObjectPool fails with ErrNotBaseType unless *T implements
// B and embeds DeleterLink.
func NewSmartBaseTypeObjectPool[B any, T any](pool *ObjectPool[T]) (*SmartBaseTypeObjectPool[B, T], error) {
	if _, ok := any((*T)(nil)).(B); !ok {
		return nil, fmt.Errorf("%T as %T: %w", (*T)(nil), (*B)(nil), ErrNotBaseType)
	}
	if _, ok := any((*T)(nil)).(deleterCarrier); !ok {
		return nil, fmt.Errorf("%T does not embed memory.DeleterLink: %w", (*T)(nil), ErrNotBaseType)
	}
	return &SmartBaseTypeObjectPool[B, T]{
		ObjectPool: pool,
		ctx:        &poolDeleter[T]{pool: pool},
	}, nil
}

// Make creates a value, binds it to this pool and returns it as a B.
func (p *SmartBaseTypeObjectPool[B, T]) Make(init func(*T) error) (BaseHandle[B], error) {
	v, err := p.Create(init)
	if err != nil {
		return BaseHandle[B]{}, err
	}
	any(v).(deleterCarrier).bindDeleter(p.ctx)
	return BaseHandle[B]{value: any(v).(B), held: true}, nil
}
