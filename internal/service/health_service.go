package service

import (
	"context"
	"database/sql"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// HealthChecker handles health check operations
type HealthChecker struct {
	db    *sql.DB
	redis redis.Cmdable
	// queueURL is empty when campaign sends do not go through RabbitMQ
	queueURL string
	version  string
	dialAMQP func(url string) (*amqp.Connection, error)
}

// NewHealthService creates a new HealthChecker instance
func NewHealthService(db *sql.DB, redisClient redis.Cmdable, queueURL, version string) *HealthChecker {
	return &HealthChecker{
		db:       db,
		redis:    redisClient,
		queueURL: queueURL,
		version:  version,
		dialAMQP: amqp.Dial,
	}
}

// checkDatabase verifies PostgreSQL connectivity with a timeout
func (h *HealthChecker) checkDatabase(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if h.db == nil || h.db.PingContext(ctx) != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// checkRedis verifies the stream backend is reachable
func (h *HealthChecker) checkRedis(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if h.redis == nil || h.redis.Ping(ctx).Err() != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// checkQueue verifies RabbitMQ connectivity
func (h *HealthChecker) checkQueue() string {
	conn, err := h.dialAMQP(h.queueURL)
	if err != nil {
		return StatusDisconnected
	}
	defer conn.Close()

	return StatusConnected
}

// determineOverallStatus calculates the overall health status based on service statuses
func (h *HealthChecker) determineOverallStatus(services map[string]string) string {
	// Without the database nothing works
	if services["database"] == StatusDisconnected {
		return StatusUnhealthy
	}

	for name, status := range services {
		if name != "database" && status == StatusDisconnected {
			return StatusDegraded
		}
	}

	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies and returns the overall status
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	services := map[string]string{
		"database": h.checkDatabase(ctx),
		"redis":    h.checkRedis(ctx),
	}
	if h.queueURL != "" {
		services["queue"] = h.checkQueue()
	}

	return &HealthStatus{
		Status:    h.determineOverallStatus(services),
		Services:  services,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
}
