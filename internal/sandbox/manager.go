package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrResourceUnavailable is returned when a sandbox cannot be provisioned
// or its tenant's provisioning slots are exhausted within the context
// deadline.
var ErrResourceUnavailable = errors.New("sandbox unavailable")

// ManagerConfig configures the resource manager.
type ManagerConfig struct {
	// SandboxTimeout is the fixed lifetime every sandbox is created with.
	SandboxTimeout time.Duration `koanf:"sandbox_timeout"`

	// MaxPerTenant bounds in-flight sandboxes per tenant.
	MaxPerTenant int64 `koanf:"max_per_tenant"`
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SandboxTimeout: 10 * time.Minute,
		MaxPerTenant:   2,
	}
}

// Manager owns sandbox lifecycles. At most one sandbox is live per task
// run; Release is idempotent so callers can guard every exit path with it
// without tracking whether teardown already happened.
type Manager struct {
	client Client
	cfg    ManagerConfig
	logger *zap.Logger

	mu           sync.Mutex
	tenants      map[string]*semaphore.Weighted
	owners       map[string]string // handle id -> tenant id, while live
	released     map[string]struct{}
	releaseOrder []string
}

// maxReleasedEntries bounds the released-handle dedupe set. Oldest
// entries are evicted first; a release deduped past this horizon falls
// through to a provider Stop, which is idempotent anyway.
const maxReleasedEntries = 1024

// NewManager creates a Manager around the given provider client.
func NewManager(client Client, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.SandboxTimeout == 0 {
		cfg.SandboxTimeout = DefaultManagerConfig().SandboxTimeout
	}
	if cfg.MaxPerTenant == 0 {
		cfg.MaxPerTenant = DefaultManagerConfig().MaxPerTenant
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:   client,
		cfg:      cfg,
		logger:   logger,
		tenants:  make(map[string]*semaphore.Weighted),
		owners:   make(map[string]string),
		released: make(map[string]struct{}),
	}
}

func (m *Manager) tenantSem(tenantID string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.tenants[tenantID]
	if !ok {
		sem = semaphore.NewWeighted(m.cfg.MaxPerTenant)
		m.tenants[tenantID] = sem
	}
	return sem
}

// Acquire provisions one sandbox for the tenant, waiting for a tenant
// slot first. Provisioning failures and exhausted slots both surface as
// ErrResourceUnavailable.
func (m *Manager) Acquire(ctx context.Context, tenantID, runtimeHint string) (Handle, error) {
	sem := m.tenantSem(tenantID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return Handle{}, fmt.Errorf("%w: tenant %s provisioning slot: %v", ErrResourceUnavailable, tenantID, err)
	}

	h, err := m.client.Create(ctx, CreateRequest{
		Runtime:        runtimeHint,
		TimeoutSeconds: int(m.cfg.SandboxTimeout.Seconds()),
		Metadata:       map[string]string{"tenant_id": tenantID},
	})
	if err != nil {
		sem.Release(1)
		return Handle{}, fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}

	m.mu.Lock()
	m.owners[h.ID] = tenantID
	delete(m.released, h.ID)
	m.mu.Unlock()

	m.logger.Info("sandbox acquired",
		zap.String("sandbox_id", h.ID),
		zap.String("tenant_id", tenantID),
		zap.String("runtime", runtimeHint))
	return h, nil
}

// Release tears the sandbox down and frees its tenant slot. It is
// idempotent: a second release of the same handle is a no-op. Handles
// this process never issued are still stopped, so a restarted worker
// can tear down a sandbox acquired before the restart. Teardown
// failures are logged and swallowed; a leaked sandbox expires on its
// own timeout.
func (m *Manager) Release(ctx context.Context, h Handle) {
	if h.IsZero() {
		return
	}

	m.mu.Lock()
	if _, done := m.released[h.ID]; done {
		m.mu.Unlock()
		return
	}
	tenantID, live := m.owners[h.ID]
	m.markReleased(h.ID)
	delete(m.owners, h.ID)
	m.mu.Unlock()

	if err := m.client.Stop(ctx, h); err != nil {
		m.logger.Warn("sandbox teardown failed, relying on provider timeout",
			zap.String("sandbox_id", h.ID),
			zap.Error(err))
	} else {
		m.logger.Info("sandbox released", zap.String("sandbox_id", h.ID))
	}

	if live {
		m.tenantSem(tenantID).Release(1)
	}
}

// markReleased records a handle in the bounded dedupe set, evicting the
// oldest entry when full. Callers must hold m.mu.
func (m *Manager) markReleased(id string) {
	if len(m.releaseOrder) >= maxReleasedEntries {
		oldest := m.releaseOrder[0]
		m.releaseOrder = m.releaseOrder[1:]
		delete(m.released, oldest)
	}
	m.released[id] = struct{}{}
	m.releaseOrder = append(m.releaseOrder, id)
}

// RunCommand executes one command. Non-zero exits and command timeouts
// come back as data in the ExecResult; the error return means the
// command could not be dispatched at all.
func (m *Manager) RunCommand(ctx context.Context, h Handle, req ExecRequest) (ExecResult, error) {
	res, err := m.client.Exec(ctx, h, req)
	if err != nil {
		return ExecResult{}, fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	return res, nil
}

// WriteFiles writes files best-effort: files written before a partial
// failure stay written, and failures come back per file.
func (m *Manager) WriteFiles(ctx context.Context, h Handle, files []File) (WriteResult, error) {
	res, err := m.client.WriteFiles(ctx, h, files)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	return res, nil
}
