package audio

type nullBackend struct{}

// NewNull returns a backend whose devices open but never start. It stands in
// for builds or hosts without a capture device.
func NewNull() Backend {
	return nullBackend{}
}

func (nullBackend) Name() string   { return "null" }
func (nullBackend) Limits() Limits { return Limits{} }

func (nullBackend) Open(Config, ProducerFunc) (Device, error) {
	return nullDevice{}, nil
}

func (nullBackend) Devices() ([]AudioDevice, error) {
	return nil, nil
}

type nullDevice struct{}

func (nullDevice) Start() error { return ErrNoDevice }
func (nullDevice) Stop() error  { return nil }
func (nullDevice) Close() error { return nil }
