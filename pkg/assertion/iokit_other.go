//go:build !darwin

package assertion

type unsupported struct{}

// New returns a binding that refuses to create assertions.
func New() Binding {
	return unsupported{}
}

func (unsupported) Create(Mode, string) (ID, error) {
	return NullID, ErrUnsupported
}

func (unsupported) Release(ID) error {
	return nil
}
