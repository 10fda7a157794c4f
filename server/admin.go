package server

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/adeilh/flashdb/cache"
	"github.com/adeilh/flashdb/httpx"
	"github.com/adeilh/flashdb/protocol"
)

// AdminRoutes exposes health, stats and entry access over HTTP. The entry
// routes read and write the same store as the line protocol.
func (s *Server) AdminRoutes() httpx.RouteRegistrar {
	return func(e *httpx.Echo) {
		httpx.RegisterRoutes(e,
			httpx.Route{Method: "GET", Path: protocol.PathHealth, Handler: s.handleHealth},
			httpx.Route{Method: "GET", Path: protocol.PathStats, Handler: s.handleStats},
		)
		keys := strings.TrimPrefix(protocol.PathKeys, protocol.APIPrefix)
		entry := strings.TrimPrefix(protocol.PathEntry, protocol.APIPrefix)
		httpx.NewRouter(e, protocol.APIPrefix).
			GET(keys, s.handleKeys).
			GET(entry, s.handleGetEntry).
			PUT(entry, s.handlePutEntry).
			DELETE(entry, s.handleDeleteEntry)
	}
}

func (s *Server) handleHealth(c httpx.Context) error {
	return c.JSON(httpx.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(c httpx.Context) error {
	return c.JSON(httpx.StatusOK, s.Stats())
}

func (s *Server) handleKeys(c httpx.Context) error {
	keys, err := s.store.Keys(c.Request().Context())
	if err != nil {
		return httpx.HTTPError(httpx.StatusInternalError, err.Error())
	}
	return c.JSON(httpx.StatusOK, protocol.KeysResponse{Keys: keys})
}

func (s *Server) handleGetEntry(c httpx.Context) error {
	key := c.QueryParam("key")
	if key == "" {
		return httpx.HTTPError(httpx.StatusBadRequest, cache.ErrEmptyKey.Error())
	}
	value, found, err := s.store.Get(c.Request().Context(), key)
	if err != nil {
		return httpx.HTTPError(httpx.StatusInternalError, err.Error())
	}
	if !found {
		return httpx.HTTPError(httpx.StatusNotFound, "key not found")
	}
	return c.JSON(httpx.StatusOK, protocol.EntryResponse{Key: key, Value: value})
}

func (s *Server) handlePutEntry(c httpx.Context) error {
	var req protocol.EntryRequest
	if err := c.Bind(&req); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid body")
	}
	if req.TTLSeconds < 0 {
		return httpx.HTTPError(httpx.StatusBadRequest, cache.ErrInvalidTTL.Error())
	}
	if req.TTLSeconds > math.MaxInt64/int64(time.Second) {
		return httpx.HTTPError(httpx.StatusBadRequest, "ttl too large")
	}
	err := s.store.Set(c.Request().Context(), req.Key, req.Value, time.Duration(req.TTLSeconds)*time.Second)
	switch {
	case errors.Is(err, cache.ErrEmptyKey), errors.Is(err, cache.ErrInvalidTTL):
		return httpx.HTTPError(httpx.StatusBadRequest, err.Error())
	case err != nil:
		return httpx.HTTPError(httpx.StatusInternalError, err.Error())
	}
	return c.NoContent(httpx.StatusNoContent)
}

func (s *Server) handleDeleteEntry(c httpx.Context) error {
	key := c.QueryParam("key")
	if key == "" {
		return httpx.HTTPError(httpx.StatusBadRequest, cache.ErrEmptyKey.Error())
	}
	deleted, err := s.store.Delete(c.Request().Context(), key)
	if err != nil {
		return httpx.HTTPError(httpx.StatusInternalError, err.Error())
	}
	return c.JSON(httpx.StatusOK, protocol.DeleteResponse{Deleted: deleted})
}
