package pmode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrPModeNotFound is returned when no P-Mode has the requested id
	ErrPModeNotFound = errors.New("pmode not found")
	// ErrInvalidPMode is returned when a P-Mode fails validation
	ErrInvalidPMode = errors.New("invalid pmode")
)

// Source provides the P-Modes configured on this MSH
type Source interface {
	ReceivingPModes() []*ReceivingProcessingMode
	SendingPMode(id string) (*SendingProcessingMode, error)
	ReceivingPMode(id string) (*ReceivingProcessingMode, error)
}

// Validate checks a sending P-Mode for consistency
func (pm *SendingProcessingMode) Validate() error {
	if pm.ID == "" {
		return fmt.Errorf("%w: sending pmode has no id", ErrInvalidPMode)
	}
	switch pm.Binding() {
	case MEPBindingPush:
		if pm.URL() == "" && !pm.Discovers() {
			return fmt.Errorf("%w: sending pmode %s: push binding requires pushConfiguration.url or dynamicDiscovery", ErrInvalidPMode, pm.ID)
		}
	case MEPBindingPull:
	default:
		return fmt.Errorf("%w: sending pmode %s: unknown mep binding %q", ErrInvalidPMode, pm.ID, pm.MEPBinding)
	}
	if ra := pm.Reliability; ra != nil && ra.ReceptionAwareness.Enabled {
		if ra.ReceptionAwareness.RetryCount < 0 || ra.ReceptionAwareness.RetryInterval <= 0 {
			return fmt.Errorf("%w: sending pmode %s: reception awareness needs retryCount >= 0 and a positive retryInterval", ErrInvalidPMode, pm.ID)
		}
	}
	for name, n := range map[string]*Notification{
		"receiptHandling":   pm.ReceiptHandling,
		"errorHandling":     pm.ErrorHandling,
		"exceptionHandling": pm.ExceptionHandling,
	} {
		if err := n.validate(); err != nil {
			return fmt.Errorf("%w: sending pmode %s: %s: %v", ErrInvalidPMode, pm.ID, name, err)
		}
	}
	return nil
}

// Validate checks a receiving P-Mode for consistency
func (pm *ReceivingProcessingMode) Validate() error {
	if pm.ID == "" {
		return fmt.Errorf("%w: receiving pmode has no id", ErrInvalidPMode)
	}
	if pm.Delivers() && pm.Forwards() {
		return fmt.Errorf("%w: receiving pmode %s: deliver and forward are exclusive", ErrInvalidPMode, pm.ID)
	}
	if pm.Delivers() && pm.MessageHandling.Deliver.DeliverMethod.Type == "" {
		return fmt.Errorf("%w: receiving pmode %s: deliver requires deliverMethod.type", ErrInvalidPMode, pm.ID)
	}
	if err := pm.MessageHandling.Deliver.reliability().validate(); err != nil {
		return fmt.Errorf("%w: receiving pmode %s: deliver: %v", ErrInvalidPMode, pm.ID, err)
	}
	switch pm.Replies() {
	case ReplyResponse:
	case ReplyCallback:
		if pm.ReplyHandling.SendingPMode == "" {
			return fmt.Errorf("%w: receiving pmode %s: callback replies require replyHandling.sendingPMode", ErrInvalidPMode, pm.ID)
		}
	default:
		return fmt.Errorf("%w: receiving pmode %s: unknown reply pattern %q", ErrInvalidPMode, pm.ID, pm.ReplyHandling.ReplyPattern)
	}
	if err := pm.ExceptionHandling.validate(); err != nil {
		return fmt.Errorf("%w: receiving pmode %s: exceptionHandling: %v", ErrInvalidPMode, pm.ID, err)
	}
	return nil
}

func (d *Deliver) reliability() *RetryReliability {
	if d == nil {
		return nil
	}
	return d.Reliability
}

func (n *Notification) validate() error {
	if n == nil || !n.Notify {
		return nil
	}
	if n.Method == nil || n.Method.Type == "" {
		return errors.New("notify requires notifyMethod.type")
	}
	return n.Reliability.validate()
}

func (r *RetryReliability) validate() error {
	if r == nil || !r.Enabled {
		return nil
	}
	if r.RetryCount < 0 || r.RetryInterval <= 0 {
		return errors.New("retry reliability needs retryCount >= 0 and a positive retryInterval")
	}
	return nil
}

// Marshal renders a P-Mode as the YAML snapshot stored with messages
func Marshal(pm any) (string, error) {
	data, err := yaml.Marshal(pm)
	if err != nil {
		return "", fmt.Errorf("marshalling pmode: %w", err)
	}
	return string(data), nil
}

// UnmarshalSending parses a sending P-Mode snapshot
func UnmarshalSending(data string) (*SendingProcessingMode, error) {
	var pm SendingProcessingMode
	if err := yaml.Unmarshal([]byte(data), &pm); err != nil {
		return nil, fmt.Errorf("parsing sending pmode: %w", err)
	}
	return &pm, nil
}

// UnmarshalReceiving parses a receiving P-Mode snapshot
func UnmarshalReceiving(data string) (*ReceivingProcessingMode, error) {
	var pm ReceivingProcessingMode
	if err := yaml.Unmarshal([]byte(data), &pm); err != nil {
		return nil, fmt.Errorf("parsing receiving pmode: %w", err)
	}
	return &pm, nil
}

// MemorySource is a Source backed by in-memory maps
type MemorySource struct {
	mu        sync.RWMutex
	sending   map[string]*SendingProcessingMode
	receiving map[string]*ReceivingProcessingMode
}

// NewMemorySource creates an empty source
func NewMemorySource() *MemorySource {
	return &MemorySource{
		sending:   make(map[string]*SendingProcessingMode),
		receiving: make(map[string]*ReceivingProcessingMode),
	}
}

// AddSending validates and registers a sending P-Mode, replacing any with the same id
func (s *MemorySource) AddSending(pm *SendingProcessingMode) error {
	if err := pm.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending[pm.ID] = pm
	return nil
}

// AddReceiving validates and registers a receiving P-Mode, replacing any with the same id
func (s *MemorySource) AddReceiving(pm *ReceivingProcessingMode) error {
	if err := pm.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiving[pm.ID] = pm
	return nil
}

// ReceivingPModes returns all receiving P-Modes ordered by id
func (s *MemorySource) ReceivingPModes() []*ReceivingProcessingMode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ReceivingProcessingMode, 0, len(s.receiving))
	for _, pm := range s.receiving {
		out = append(out, pm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SendingPModes returns all sending P-Modes ordered by id
func (s *MemorySource) SendingPModes() []*SendingProcessingMode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SendingProcessingMode, 0, len(s.sending))
	for _, pm := range s.sending {
		out = append(out, pm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SendingPMode returns the sending P-Mode with the given id
func (s *MemorySource) SendingPMode(id string) (*SendingProcessingMode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pm, ok := s.sending[id]
	if !ok {
		return nil, fmt.Errorf("%w: sending %q", ErrPModeNotFound, id)
	}
	return pm, nil
}

// ReceivingPMode returns the receiving P-Mode with the given id
func (s *MemorySource) ReceivingPMode(id string) (*ReceivingProcessingMode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pm, ok := s.receiving[id]
	if !ok {
		return nil, fmt.Errorf("%w: receiving %q", ErrPModeNotFound, id)
	}
	return pm, nil
}

// LoadDirectories reads every *.yaml and *.yml file of the two directories
// as one sending or receiving P-Mode. An empty directory name is skipped.
func LoadDirectories(sendingDir, receivingDir string) (*MemorySource, error) {
	src := NewMemorySource()

	err := loadDir(sendingDir, func(data []byte, path string) error {
		var pm SendingProcessingMode
		if err := yaml.Unmarshal(data, &pm); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		if _, err := src.SendingPMode(pm.ID); err == nil {
			return fmt.Errorf("%s: %w: duplicate sending pmode id %q", path, ErrInvalidPMode, pm.ID)
		}
		if err := src.AddSending(&pm); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = loadDir(receivingDir, func(data []byte, path string) error {
		var pm ReceivingProcessingMode
		if err := yaml.Unmarshal(data, &pm); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		if _, err := src.ReceivingPMode(pm.ID); err == nil {
			return fmt.Errorf("%s: %w: duplicate receiving pmode id %q", path, ErrInvalidPMode, pm.ID)
		}
		if err := src.AddReceiving(&pm); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

func loadDir(dir string, fn func(data []byte, path string) error) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading pmode directory: %w", err)
	}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading pmode file: %w", err)
		}
		if err := fn([]byte(os.ExpandEnv(string(data))), path); err != nil {
			return err
		}
	}
	return nil
}
