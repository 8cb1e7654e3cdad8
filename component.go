package depot

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/TheBitDrifter/table"
	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"
)

// MaxComponentTypes bounds the number of distinct component types a process
// can register.
const MaxComponentTypes = 256

// TypeID is the stable identity of a component type, a hash of its fully
// qualified Go type name.
type TypeID uint64

// Component represents a data attribute that can be attached to entities.
// Components are also the terms queries and access declarations are built
// from.
type Component interface {
	Type() ComponentType
}

// ComponentType describes the memory layout of a component. Component values
// live in allocator memory the garbage collector does not scan, so every
// component type must be free of pointers.
type ComponentType struct {
	id    TypeID
	name  string
	size  uintptr
	align uintptr
	elem  table.ElementType
}

func (c ComponentType) Type() ComponentType { return c }
func (c ComponentType) ID() TypeID          { return c.id }
func (c ComponentType) Name() string        { return c.name }
func (c ComponentType) Size() int           { return int(c.size) }
func (c ComponentType) Align() int          { return int(c.align) }

func (c ComponentType) String() string {
	return fmt.Sprintf("%s(%d bytes)", c.name, c.size)
}

var componentTypes = struct {
	sync.Mutex
	cache Cache[ComponentType]
}{cache: FactoryNewCache[ComponentType](MaxComponentTypes)}

// componentTypeOf returns the process-wide descriptor for T, registering it on
// first use.
func componentTypeOf[T any]() ComponentType {
	rt := reflect.TypeFor[T]()
	name := rt.PkgPath() + "/" + rt.String()

	componentTypes.Lock()
	defer componentTypes.Unlock()
	if idx, ok := componentTypes.cache.GetIndex(name); ok {
		return *componentTypes.cache.GetItem(idx)
	}
	if err := checkPointerFree(rt); err != nil {
		panic(eris.Wrapf(ErrPointerComponent, "%s: %v", name, err))
	}
	ct := ComponentType{
		id:    TypeID(xxhash.Sum64String(name)),
		name:  rt.String(),
		size:  rt.Size(),
		align: uintptr(rt.Align()),
		elem:  table.FactoryNewElementType[T](),
	}
	if _, err := componentTypes.cache.Register(name, ct); err != nil {
		panic(err)
	}
	return ct
}

func checkPointerFree(rt reflect.Type) error {
	switch rt.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		return checkPointerFree(rt.Elem())
	case reflect.Struct:
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if err := checkPointerFree(f.Type); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%s holds a %s", rt, rt.Kind())
}
