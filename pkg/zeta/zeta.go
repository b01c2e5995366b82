package zeta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/zeta/pkg/engine"
	"github.com/cuemby/zeta/pkg/environment"
	"github.com/cuemby/zeta/pkg/health"
	"github.com/cuemby/zeta/pkg/log"
	"github.com/cuemby/zeta/pkg/metrics"
	"github.com/cuemby/zeta/pkg/pns"
	"github.com/cuemby/zeta/pkg/types"
)

// minNameLength is the shortest accepted function name.
const minNameLength = 2

// readyTimeout and pollInterval bound the ColdStart/WarmStart readiness
// wait. The deadline is absolute; there is no caller-driven cancellation.
const (
	readyTimeout = 60 * time.Second
	pollInterval = time.Second
)

// socketTargetInContainer is the bind-mount target path of the heartbeat
// socket inside every runner container.
const socketTargetInContainer = "/zeta/tmp/docker_proxy.sock"

// Store is the subset of the metadata store the orchestrator needs.
type Store interface {
	InsertImage(image types.RunnerImage) error
	InsertFunction(name string, createdAt time.Time, imageID string) error
	InsertContainer(functionName string, c types.RunnerContainer) error
	DeleteContainerOfFunction(functionName string) error
	DeleteFunction(name string) error
	FetchAllFunctions() ([]types.FunctionMetadata, error)
	FetchFunctionByName(name string) (types.FunctionMetadata, error)
	FetchRunnerContainer(functionName string) (types.RunnerContainer, bool, error)
	FetchImageForFunction(functionName string) (types.RunnerImage, error)
	FunctionExists(name string) (bool, error)
}

// ImageBuilder is the subset of pkg/imagebuilder the orchestrator needs.
type ImageBuilder interface {
	Build(ctx context.Context, functionName, handlerSource string) (types.RunnerImage, error)
}

// funcLock is a reference-counted mutex so the lock map can be pruned once
// no ColdStart/WarmStart/Delete is in flight for a function, keeping the
// map bounded instead of growing by one entry per name ever seen.
type funcLock struct {
	mu   sync.Mutex
	refs int
}

// Service is the Zeta control-plane orchestrator.
type Service struct {
	store      Store
	engine     engine.Engine
	pns        *pns.PNS
	builder    ImageBuilder
	env        *environment.Manager
	socketPath string
	httpClient *http.Client

	locksMu sync.Mutex
	locks   map[string]*funcLock
}

// New returns a Service wired to its collaborators. socketPath is the
// host-side path of the heartbeat UNIX socket, bind-mounted read-only into
// every runner container.
func New(store Store, eng engine.Engine, p *pns.PNS, builder ImageBuilder, env *environment.Manager, socketPath string) *Service {
	return &Service{
		store:      store,
		engine:     eng,
		pns:        p,
		builder:    builder,
		env:        env,
		socketPath: socketPath,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		locks:      make(map[string]*funcLock),
	}
}

func (s *Service) acquireLock(name string) *funcLock {
	s.locksMu.Lock()
	fl, ok := s.locks[name]
	if !ok {
		fl = &funcLock{}
		s.locks[name] = fl
	}
	fl.refs++
	s.locksMu.Unlock()

	fl.mu.Lock()
	return fl
}

func (s *Service) releaseLock(name string, fl *funcLock) {
	fl.mu.Unlock()

	s.locksMu.Lock()
	fl.refs--
	if fl.refs == 0 {
		delete(s.locks, name)
	}
	s.locksMu.Unlock()
}

// CreateZeta registers a function, building a fresh runner image around
// handlerSource. Redeploying an existing name is equivalent to deleting it
// first.
func (s *Service) CreateZeta(ctx context.Context, name, handlerSource string) (types.FunctionMetadata, error) {
	if len(name) < minNameLength {
		return types.FunctionMetadata{}, types.NewError(types.KindInvalidInput, "length needs to be 2 or more")
	}

	fl := s.acquireLock(name)
	defer s.releaseLock(name, fl)

	exists, err := s.store.FunctionExists(name)
	if err != nil {
		return types.FunctionMetadata{}, err
	}
	if exists {
		if err := s.deleteLocked(ctx, name); err != nil {
			return types.FunctionMetadata{}, err
		}
	}

	image, err := s.builder.Build(ctx, name, handlerSource)
	if err != nil {
		return types.FunctionMetadata{}, err
	}

	flogger := log.WithFunction(name)

	if err := s.store.InsertImage(image); err != nil {
		if rmErr := s.engine.RemoveImage(ctx, image.ID, true); rmErr != nil {
			flogger.Warn().Err(rmErr).Msg("failed to clean up orphaned image after store failure")
		}
		return types.FunctionMetadata{}, err
	}
	if err := s.store.InsertFunction(name, time.Now(), image.ID); err != nil {
		if rmErr := s.engine.RemoveImage(ctx, image.ID, true); rmErr != nil {
			flogger.Warn().Err(rmErr).Msg("failed to clean up orphaned image after store failure")
		}
		return types.FunctionMetadata{}, err
	}

	metrics.FunctionsTotal.Inc()
	flogger.Info().Str("image_tag", image.Tag).Msg("function created")
	return s.store.FetchFunctionByName(name)
}

// DeleteZeta removes a function's runner container (if any), its images,
// and its metadata row. Idempotent: deleting an unregistered name is a
// silent success.
func (s *Service) DeleteZeta(ctx context.Context, name string) error {
	fl := s.acquireLock(name)
	defer s.releaseLock(name, fl)
	return s.deleteLocked(ctx, name)
}

// deleteLocked performs the delete with the caller already holding name's
// lock, so CreateZeta's redeploy path can reuse it without deadlocking.
func (s *Service) deleteLocked(ctx context.Context, name string) error {
	exists, err := s.store.FunctionExists(name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	if c, ok, err := s.store.FetchRunnerContainer(name); err != nil {
		return err
	} else if ok {
		s.stopAndRemoveContainer(ctx, name)
		if err := s.store.DeleteContainerOfFunction(name); err != nil {
			return err
		}
		s.pns.Release(c.HostPort)
		metrics.RunningContainersTotal.Dec()
	}

	flogger := log.WithFunction(name)

	images, err := s.engine.ImagesWithPrefix(ctx, name)
	if err != nil {
		flogger.Warn().Err(err).Msg("failed to list images for cleanup")
	}
	for _, img := range images {
		if err := s.engine.RemoveImage(ctx, img.ID, true); err != nil {
			flogger.Warn().Err(err).Str("image_id", img.ID).Msg("failed to remove runner image")
		}
	}

	if err := s.store.DeleteFunction(name); err != nil {
		return err
	}
	metrics.FunctionsTotal.Dec()
	flogger.Info().Msg("function deleted")
	return nil
}

// stopAndRemoveContainer performs a best-effort stop+remove.
// Engine.Remove already implements the forced-retry fallback.
func (s *Service) stopAndRemoveContainer(ctx context.Context, name string) {
	logger := log.WithFunction(name)
	if err := s.engine.Stop(ctx, name); err != nil {
		logger.Warn().Err(err).Msg("failed to stop container")
	}
	if err := s.engine.Remove(ctx, name); err != nil {
		logger.Warn().Err(err).Msg("failed to remove container")
	}
}

// ColdStart allocates a port, runs a fresh container for name on the
// shared network, and waits for it to become ready.
func (s *Service) ColdStart(ctx context.Context, name string) (string, error) {
	fl := s.acquireLock(name)
	defer s.releaseLock(name, fl)
	return s.coldStartLocked(ctx, name)
}

func (s *Service) coldStartLocked(ctx context.Context, name string) (string, error) {
	timer := metrics.NewTimer()
	logger := log.WithFunction(name)

	image, err := s.store.FetchImageForFunction(name)
	if err != nil {
		return "", err
	}

	port, err := s.pns.Allocate()
	if err != nil {
		return "", types.Wrap(types.KindEngineUnavailable, "allocate host port", err)
	}
	s.pns.Assign(port, name)

	container, err := s.engine.RunContainer(ctx, engine.RunOptions{
		Name:          name,
		ImageID:       image.ID,
		Network:       s.env.Name(),
		ContainerPort: types.DefaultContainerPort,
		HostPort:      port,
		HostIP:        types.DefaultHostIP,
		SocketSource:  s.socketPath,
		SocketTarget:  socketTargetInContainer,
		Labels:        map[string]string{"zeta.function": name},
	})
	if err != nil {
		s.pns.Release(port)
		return "", types.Wrap(types.KindEngineUnavailable, "run container", err)
	}

	if err := s.store.InsertContainer(name, types.RunnerContainer{
		ID:            container.ID,
		Name:          name,
		ContainerPort: types.DefaultContainerPort,
		HostPort:      port,
		HostIP:        types.DefaultHostIP,
		LastHeartbeat: 0,
	}); err != nil {
		s.stopAndRemoveContainer(ctx, name)
		s.pns.Release(port)
		return "", err
	}

	hostname := fmt.Sprintf("http://%s:%d", types.DefaultHostIP, port)
	if !s.waitReady(ctx, types.DefaultHostIP, port) {
		logger.Warn().Str("hostname", hostname).Msg("container did not become ready in time")
		s.stopAndRemoveContainer(ctx, name)
		_ = s.store.DeleteContainerOfFunction(name)
		s.pns.Release(port)
		metrics.StartTimeoutsTotal.Inc()
		return "", types.NewError(types.KindStartTimeout, "container did not become ready within 60s")
	}

	metrics.ColdStartsTotal.Inc()
	metrics.RunningContainersTotal.Inc()
	timer.ObserveDuration(metrics.ColdStartDuration)
	logger.Info().Str("hostname", hostname).Msg("cold started")
	return hostname, nil
}

// waitReady polls GET <hostIP:hostPort>/is-running until it returns 200 or
// readyTimeout elapses. A TCPChecker gates the first stage: the engine can return from
// RunContainer before the published port is actually accepting
// connections, and probing /is-running against a closed port just adds
// connection-refused noise to every early polling tick.
func (s *Service) waitReady(ctx context.Context, hostIP string, hostPort int) bool {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	portChecker := health.NewRunnerPortChecker(hostIP, hostPort)
	httpChecker := health.NewRunnerReadinessChecker(fmt.Sprintf("http://%s:%d", hostIP, hostPort))
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	portOpen := false
	for {
		if !portOpen {
			portOpen = portChecker.Check(ctx).Healthy
		}
		if portOpen && httpChecker.Check(ctx).Healthy {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// WarmStart returns the hostname of name's already-live runner container,
// waiting for the engine to populate its published ports if necessary.
func (s *Service) WarmStart(ctx context.Context, name string) (string, error) {
	fl := s.acquireLock(name)
	defer s.releaseLock(name, fl)
	return s.warmStartLocked(ctx, name)
}

func (s *Service) warmStartLocked(ctx context.Context, name string) (string, error) {
	c, ok, err := s.store.FetchRunnerContainer(name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", types.NewError(types.KindNotFound, "no live container for function: "+name)
	}

	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		live, err := s.engine.GetContainer(ctx, name)
		if err != nil {
			// The engine losing the container is drift, not a transient
			// condition: report it so Invoke can reconcile the stale row
			// and cold-start instead of polling out the full deadline.
			if types.KindOf(err) == types.KindNotFound {
				return "", types.Wrap(types.KindNotFound, "container missing for function: "+name, err)
			}
			return "", types.Wrap(types.KindEngineUnavailable, "fetch container", err)
		}
		if len(live.Ports) > 0 {
			metrics.WarmStartsTotal.Inc()
			return fmt.Sprintf("http://%s:%d", c.HostIP, c.HostPort), nil
		}
		select {
		case <-ctx.Done():
			metrics.StartTimeoutsTotal.Inc()
			return "", types.NewError(types.KindStartTimeout, "container ports not published within 60s")
		case <-ticker.C:
		}
	}
}

// Invoke orchestrates a cold or warm start for name and proxies params to
// its /run endpoint. Engine drift (a container the store
// believes is live but the engine has lost) is reconciled by deleting the
// stale row and cold-starting.
func (s *Service) Invoke(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	exists, err := s.store.FunctionExists(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, types.NewError(types.KindNotFound, "no such function: "+name)
	}

	stale, hasContainer, err := s.store.FetchRunnerContainer(name)
	if err != nil {
		return nil, err
	}

	var hostname string
	if hasContainer {
		hostname, err = s.WarmStart(ctx, name)
		if err != nil && types.KindOf(err) == types.KindNotFound {
			// Engine drift: reconcile the stale row, free its port, and
			// fall back to a cold start.
			fl := s.acquireLock(name)
			_ = s.store.DeleteContainerOfFunction(name)
			s.pns.Release(stale.HostPort)
			metrics.RunningContainersTotal.Dec()
			s.releaseLock(name, fl)
			hostname, err = s.ColdStart(ctx, name)
		}
	} else {
		hostname, err = s.ColdStart(ctx, name)
	}
	if err != nil {
		return nil, err
	}

	return s.proxyInvoke(ctx, name, hostname, params)
}

func (s *Service) proxyInvoke(ctx context.Context, name, hostname string, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, types.Wrap(types.KindInvalidInput, "encode params", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hostname+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, types.Wrap(types.KindTransportError, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	timer := metrics.NewTimer()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.InvocationsTotal.WithLabelValues(name, "transport_error").Inc()
		return nil, types.Wrap(types.KindTransportError, "invoke runner", err)
	}
	defer resp.Body.Close()
	timer.ObserveDurationVec(metrics.InvocationDuration, name)

	// Error responses from the runner agent are plain text (http.Error),
	// not JSON, so status is checked before attempting to decode a body.
	if resp.StatusCode >= 500 {
		msg, _ := io.ReadAll(resp.Body)
		metrics.InvocationsTotal.WithLabelValues(name, "handler_error").Inc()
		return nil, types.NewError(types.KindHandlerError, strings.TrimSpace(string(msg)))
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		metrics.InvocationsTotal.WithLabelValues(name, "transport_error").Inc()
		return nil, types.NewError(types.KindTransportError, strings.TrimSpace(string(msg)))
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.InvocationsTotal.WithLabelValues(name, "transport_error").Inc()
		return nil, types.Wrap(types.KindTransportError, "decode runner response", err)
	}

	metrics.InvocationsTotal.WithLabelValues(name, "success").Inc()
	return decoded, nil
}

// ListZetas returns every registered function's metadata.
func (s *Service) ListZetas() ([]types.FunctionMetadata, error) {
	return s.store.FetchAllFunctions()
}

// GetZeta returns one function's metadata, or KindNotFound.
func (s *Service) GetZeta(name string) (types.FunctionMetadata, error) {
	return s.store.FetchFunctionByName(name)
}
