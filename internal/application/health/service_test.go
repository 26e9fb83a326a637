package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectHealth_NothingConfigured(t *testing.T) {
	result := CollectHealth(context.Background(), Checks{})
	assert.Equal(t, "issue", result.Status)
	assert.Equal(t, "disconnected", result.Dependencies["database"].Status)
	assert.Equal(t, "disconnected", result.Dependencies["redis"].Status)
	_, hasBroker := result.Dependencies["broker"]
	assert.False(t, hasBroker)
	assert.Equal(t, 0, result.Traffic.TotalRequests)
}

func TestCollectHealth_WithMiniredis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()
	db := PingFunc(func() error { return nil })

	result := CollectHealth(ctx, Checks{Redis: rdb, Database: db})
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, "connected", result.Dependencies["redis"].Status)
	assert.Equal(t, "100", result.Traffic.SuccessRate)

	require.NoError(t, rdb.Set(ctx, "health:global:req_total", "10", 0).Err())
	require.NoError(t, rdb.Set(ctx, "health:global:req_errors", "2", 0).Err())
	require.NoError(t, rdb.Set(ctx, "health:global:res_time_total", "150.5", 0).Err())
	require.NoError(t, rdb.Set(ctx, "health:global:res_count", "10", 0).Err())

	result2 := CollectHealth(ctx, Checks{Redis: rdb, Database: db})
	assert.Equal(t, 10, result2.Traffic.TotalRequests)
	assert.Equal(t, 8, result2.Traffic.SuccessCount)
	assert.Equal(t, "80.0", result2.Traffic.SuccessRate)
	assert.Equal(t, "15.05", result2.Traffic.AvgResponseTime)
}

func TestCollectHealth_BrokerAndFrontend(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	fe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer fe.Close()

	result := CollectHealth(context.Background(), Checks{
		Redis:       rdb,
		Database:    PingFunc(func() error { return nil }),
		Broker:      PingFunc(func() error { return errors.New("connection refused") }),
		FrontendURL: fe.URL,
	})
	assert.Equal(t, "issue", result.Status)
	assert.Equal(t, "error", result.Dependencies["broker"].Status)
	assert.Equal(t, "reachable", result.Dependencies["frontend"].Status)
}

func TestRenderDashboardHTML(t *testing.T) {
	html := RenderDashboardHTML(CollectHealth(context.Background(), Checks{}))
	assert.Contains(t, html, "Certify API Status")
	assert.Contains(t, html, "/health/json")
}
