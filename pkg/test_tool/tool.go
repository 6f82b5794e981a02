package testtool

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Container started test container with host and mapped port of ExposedPorts[0]
type Container struct {
	testcontainers.Container
	Host string
	Port string
}

// Addr host:port
func (c *Container) Addr() string {
	return c.Host + ":" + c.Port
}

// PortInt mapped port as int, 0 when not numeric
func (c *Container) PortInt() int {
	p, _ := strconv.Atoi(c.Port)
	return p
}

// SetupContainer 通用函式來啟動測試容器, return container with host and mapped port of ExposedPorts[0]
func SetupContainer(ctx context.Context, req testcontainers.ContainerRequest) (testcontainers.Container, string, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", "", err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, "", "", err
	}

	natPort, err := nat.NewPort("tcp", strings.TrimSuffix(req.ExposedPorts[0], "/tcp"))
	if err != nil {
		return nil, "", "", err
	}

	port, err := container.MappedPort(ctx, natPort)
	if err != nil {
		return nil, "", "", err
	}

	return container, host, port.Port(), nil
}

func start(ctx context.Context, name string, req testcontainers.ContainerRequest) (*Container, error) {
	c, host, port, err := SetupContainer(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("start %s container: %w", name, err)
	}
	return &Container{Container: c, Host: host, Port: port}, nil
}

// StartPostgres postgres:16-alpine, user and password are both the database name
func StartPostgres(ctx context.Context, database string) (*Container, error) {
	return start(ctx, "postgres", testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     database,
			"POSTGRES_PASSWORD": database,
			"POSTGRES_DB":       database,
		},
		// 初始化時會重啟一次
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(time.Minute),
	})
}

// StartRedis redis:7-alpine
func StartRedis(ctx context.Context) (*Container, error) {
	return start(ctx, "redis", testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})
}

// StartMongo mongo:7 without auth
func StartMongo(ctx context.Context) (*Container, error) {
	return start(ctx, "mongo", testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	})
}

// Terminate stop containers, nil entries are skipped
func Terminate(ctx context.Context, containers ...*Container) {
	for _, c := range containers {
		if c != nil {
			_ = c.Terminate(ctx)
		}
	}
}
