package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"time"

	"github.com/nexusd/nexusd/pkg/bus"
)

// bridgeSocketName is the Unix socket the tenant container's bridge process
// listens on inside its state volume, bind-mounted so the worker can dial it
// from the host.
const bridgeSocketName = "bridge.sock"

// bridgeEnvelope is the newline-delimited JSON line shape the bridge writes;
// it carries only the type name and the type-specific body.
type bridgeEnvelope struct {
	Type    bus.EventType   `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// startBridge (re)starts the ingestion goroutine for tenantID, doing
// nothing if one is already running. Called from Start, Restart, PairStart,
// and the reconciler on discovering a running tenant with no attached
// ingress.
func (w *Worker) startBridge(tenantID string) {
	if w.forward == nil {
		return
	}
	w.bridgeMu.Lock()
	defer w.bridgeMu.Unlock()
	if _, running := w.bridges[tenantID]; running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.bridges[tenantID] = cancel
	go w.runBridge(ctx, tenantID)
}

// stopBridge cancels tenantID's ingestion goroutine, if any.
func (w *Worker) stopBridge(tenantID string) {
	w.bridgeMu.Lock()
	defer w.bridgeMu.Unlock()
	if cancel, ok := w.bridges[tenantID]; ok {
		cancel()
		delete(w.bridges, tenantID)
	}
}

// runBridge dials the tenant's socket, reconnecting with backoff until the
// context is cancelled, and forwards every decoded line to control.
func (w *Worker) runBridge(ctx context.Context, tenantID string) {
	socketPath := filepath.Join(w.volumes.StatePath(tenantID), bridgeSocketName)
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
		if err != nil {
			w.logger.Debug().Err(err).Str("tenant_id", tenantID).Msg("bridge socket not yet available")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		w.consumeBridge(ctx, tenantID, conn)
		conn.Close()
	}
}

// consumeBridge reads newline-delimited JSON events from conn until it
// closes or ctx is cancelled, forwarding each to control.
func (w *Worker) consumeBridge(ctx context.Context, tenantID string, conn net.Conn) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()
	defer func() {
		select {
		case <-done:
		default:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env bridgeEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			w.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("discarding malformed bridge line")
			continue
		}
		if _, err := bus.DecodePayload(env.Type, env.Payload); err != nil {
			w.logger.Warn().Err(err).Str("tenant_id", tenantID).Str("event_type", string(env.Type)).Msg("discarding unparseable bridge event")
			continue
		}
		fwdCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := w.forward.Forward(fwdCtx, tenantID, string(env.Type), env.Payload)
		cancel()
		if err != nil {
			w.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("failed to forward bridge event")
		}
	}
}
