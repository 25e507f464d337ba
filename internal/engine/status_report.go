package engine

import (
	"time"

	"shardd/pkg/types"
)

func (e *Engine) stateLocked() State {
	switch {
	case e.inflight > 0:
		return StateLoading
	case e.cur != nil:
		return StateReady
	case e.err != "":
		return StateError
	default:
		return StateIdle
	}
}

// Snapshot returns a read-only view of the engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Snapshot{State: e.stateLocked(), Err: e.err}
	if e.cur != nil {
		shard := e.cur.shard
		s.Shard = &shard
		s.Dir = e.cur.dir
		s.LoadedAt = e.cur.loadedAt
	}
	return s
}

// Status builds the detailed status response for /status.
func (e *Engine) Status() types.StatusResponse {
	e.mu.RLock()
	resp := types.StatusResponse{
		State:             string(e.stateLocked()),
		Device:            e.device,
		LoadsTotal:        e.loadsOK,
		LoadFailuresTotal: e.loadsBad,
		LastError:         e.err,
	}
	if e.cur != nil {
		shard := e.cur.shard
		resp.Shard = &shard
		resp.LoadedAt = e.cur.loadedAt.Unix()
	}
	e.mu.RUnlock()

	now := time.Now()
	resp.Sessions = e.Sessions()
	resp.QueueDepth = e.exec.Pending()
	resp.UptimeSeconds = int64(now.Sub(e.startTime) / time.Second)
	resp.ServerTimeUnix = now.Unix()
	return resp
}
