package proxmox

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/hypervisor"
	"github.com/core-tools/hsu-pilot/pkg/logging"
	"github.com/core-tools/hsu-pilot/pkg/machine"

	goproxmox "github.com/luthermonson/go-proxmox"
)

const (
	commandStart    = "start"
	commandShutdown = "shutdown"
	commandCurrent  = "current"
)

// Client adapts the go-proxmox API client to hypervisor.Client
type Client struct {
	config     Config
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger

	mutex sync.Mutex
	api   *goproxmox.Client
	// authenticated is set once a call succeeded on the current session
	authenticated bool
}

var _ hypervisor.Client = (*Client)(nil)

type Option func(*Client)

// WithBaseURL overrides the https://host:port/api2/json endpoint
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(config Config, logger logging.Logger, opts ...Option) (*Client, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:  config,
		baseURL: config.BaseURL(),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !config.VerifySSL},
			},
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.api = c.newAPI()
	return c, nil
}

// newAPI builds a go-proxmox client; with password auth it logs in on first use
func (c *Client) newAPI() *goproxmox.Client {
	options := []goproxmox.Option{
		goproxmox.WithHTTPClient(c.httpClient),
		goproxmox.WithLogger(c.logger),
	}
	if c.config.usesToken() {
		tokenID := fmt.Sprintf("%s!%s", c.config.UserID(), c.config.TokenName)
		options = append(options, goproxmox.WithAPIToken(tokenID, c.config.TokenValue))
	} else {
		options = append(options, goproxmox.WithCredentials(&goproxmox.Credentials{
			Username: c.config.UserID(),
			Password: c.config.Password,
		}))
	}
	return goproxmox.NewClient(c.baseURL, options...)
}

func (c *Client) Start(ctx context.Context, spec machine.Spec) error {
	c.logger.Infof("Starting machine, id: %d, type: %s, node: %s", spec.ID, spec.Type, spec.Node)
	return c.command(ctx, spec, commandStart)
}

func (c *Client) Stop(ctx context.Context, spec machine.Spec) error {
	c.logger.Infof("Shutting down machine, id: %d, type: %s, node: %s", spec.ID, spec.Type, spec.Node)
	return c.command(ctx, spec, commandShutdown)
}

func (c *Client) command(ctx context.Context, spec machine.Spec, command string) error {
	path := statusPath(spec, command)
	var upid string
	err := c.call(ctx, path, func(api *goproxmox.Client) error {
		return api.Post(ctx, path, nil, &upid)
	})
	if err != nil {
		return err
	}
	c.logger.Debugf("Task queued, id: %d, command: %s, upid: %s", spec.ID, command, upid)
	return nil
}

func (c *Client) GetStatus(ctx context.Context, spec machine.Spec) (machine.RunState, error) {
	path := statusPath(spec, commandCurrent)

	var status string
	err := c.call(ctx, path, func(api *goproxmox.Client) error {
		if spec.Type == machine.TypeContainer {
			var ct goproxmox.Container
			if err := api.Get(ctx, path, &ct); err != nil {
				return err
			}
			status = ct.Status
			return nil
		}
		var vm goproxmox.VirtualMachine
		if err := api.Get(ctx, path, &vm); err != nil {
			return err
		}
		status = vm.Status
		return nil
	})
	if err != nil {
		return machine.RunStateUnknown, err
	}

	c.logger.Debugf("Machine status, id: %d, status: %s", spec.ID, status)
	return machine.ParseRunState(status), nil
}

func (c *Client) ListAll(ctx context.Context, node string) (map[machine.ID]machine.Info, error) {
	nodes := []string{node}
	if node == "" {
		var err error
		nodes, err = c.listNodes(ctx)
		if err != nil {
			return nil, err
		}
	}

	result := make(map[machine.ID]machine.Info)
	for _, name := range nodes {
		err := c.call(ctx, "/nodes/"+name, func(api *goproxmox.Client) error {
			n, err := api.Node(ctx, name)
			if err != nil {
				return err
			}

			containers, err := n.Containers(ctx)
			if err != nil {
				return err
			}
			for _, ct := range containers {
				id := machine.ID(ct.VMID)
				result[id] = machine.Info{
					ID:    id,
					Type:  machine.TypeContainer,
					Name:  ct.Name,
					Node:  name,
					State: machine.ParseRunState(ct.Status),
				}
			}

			vms, err := n.VirtualMachines(ctx)
			if err != nil {
				return err
			}
			for _, vm := range vms {
				id := machine.ID(vm.VMID)
				result[id] = machine.Info{
					ID:    id,
					Type:  machine.TypeVM,
					Name:  vm.Name,
					Node:  name,
					State: machine.ParseRunState(vm.Status),
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	c.logger.Debugf("Listed machines, node: %q, count: %d", node, len(result))
	return result, nil
}

func (c *Client) listNodes(ctx context.Context) ([]string, error) {
	var statuses goproxmox.NodeStatuses
	err := c.call(ctx, "/nodes", func(api *goproxmox.Client) error {
		var err error
		statuses, err = api.Nodes(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	nodes := make([]string, 0, len(statuses))
	for _, status := range statuses {
		nodes = append(nodes, status.Node)
	}
	return nodes, nil
}

func statusPath(spec machine.Spec, command string) string {
	return fmt.Sprintf("/nodes/%s/%s/%d/status/%s", url.PathEscape(spec.Node), spec.Type, spec.ID, command)
}

// call runs fn against the current session and maps its error to a DomainError.
// A ticket rejected after it once worked is renewed with a fresh login and fn
// is retried once.
func (c *Client) call(ctx context.Context, path string, fn func(api *goproxmox.Client) error) error {
	api, authenticated := c.session()
	err := fn(api)
	if err != nil && authenticated && !c.config.usesToken() && isNotAuthorized(err) && ctx.Err() == nil {
		c.logger.Debugf("Ticket rejected, renewing, path: %s", path)
		api = c.renewSession(api)
		err = fn(api)
	}
	if err != nil {
		return classifyError(err).WithContext("path", path)
	}

	c.mutex.Lock()
	if c.api == api {
		c.authenticated = true
	}
	c.mutex.Unlock()
	return nil
}

func (c *Client) session() (*goproxmox.Client, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.api, c.authenticated
}

// renewSession replaces stale unless another caller already did
func (c *Client) renewSession(stale *goproxmox.Client) *goproxmox.Client {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.api == stale {
		c.api = c.newAPI()
		c.authenticated = false
	}
	return c.api
}

func isNotAuthorized(err error) bool {
	if stderrors.Is(err, goproxmox.ErrNotAuthorized) {
		return true
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "401 unauthorized") ||
		strings.Contains(text, "403 forbidden") ||
		strings.Contains(text, "not authorized") ||
		strings.Contains(text, "no ticket") ||
		strings.Contains(text, "authentication failure") ||
		strings.Contains(text, "permission check failed")
}

func isNotFound(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "does not exist") ||
		strings.Contains(text, "404 not found")
}

func isTransportFailure(err error) bool {
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return true
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "dial tcp") ||
		strings.Contains(text, "connection refused") ||
		strings.Contains(text, "connection reset") ||
		strings.Contains(text, "no such host") ||
		strings.Contains(text, "i/o timeout")
}

// classifyError maps go-proxmox errors onto the hypervisor error kinds
func classifyError(err error) *errors.DomainError {
	switch {
	case isTransportFailure(err):
		return errors.NewNetworkError("proxmox request failed", err)
	case isNotAuthorized(err):
		return errors.NewPermissionError("proxmox rejected credentials", err)
	case isNotFound(err):
		return errors.NewNotFoundError("proxmox resource not found", err)
	default:
		return errors.NewHypervisorError("proxmox request failed", err)
	}
}
