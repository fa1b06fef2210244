package radio

import (
	"context"
	"sync"
)

// NoneTransport is a no-op Transport for operating without CAT control:
// the operator tunes and keys manually, or PTT is driven entirely by
// GPIOPTT. It tracks the values it was told to set so status reporting
// still works.
type NoneTransport struct {
	mu        sync.Mutex
	connected bool
	freqHz    int64
	mode      string
	pttOn     bool
}

func NewNoneTransport() *NoneTransport {
	return &NoneTransport{}
}

func (n *NoneTransport) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = true
	return nil
}

func (n *NoneTransport) Disconnect() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = false
	return nil
}

func (n *NoneTransport) SetFrequency(ctx context.Context, hz int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.freqHz = hz
	return nil
}

func (n *NoneTransport) GetFrequency(ctx context.Context) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.freqHz, nil
}

func (n *NoneTransport) SetMode(ctx context.Context, mode string, bandwidthHz int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode = mode
	return nil
}

func (n *NoneTransport) SetPTT(ctx context.Context, on bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pttOn = on
	return nil
}

func (n *NoneTransport) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}
