// Package kubernetes provides a sandbox.Provider that provisions sandboxes
// through agent-sandbox SandboxClaim CRDs.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/sandbox"
)

var _ sandbox.Provider = (*ClaimProvider)(nil)

// Config configures a ClaimProvider.
type Config struct {
	Namespace string
	// ClaimTimeout bounds how long Create waits for the Sandbox to become ready.
	ClaimTimeout time.Duration
	// ServerPort is where the sandbox server listens inside the pod.
	ServerPort int
	// HostTemplate renders Host(port). Placeholders: {id}, {host} (the
	// service FQDN) and {port}. Empty means "{host}:{port}".
	HostTemplate string
	// HTTPClient is used for sandbox server calls. Nil uses the client default.
	HTTPClient *http.Client
}

// ClaimProvider creates one SandboxClaim per sandbox. The claim name is the
// sandbox identifier, so Connect can resolve it after a restart.
type ClaimProvider struct {
	client client.Client
	cfg    Config
}

// NewClaimProvider creates a ClaimProvider.
func NewClaimProvider(c client.Client, cfg Config) *ClaimProvider {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 2 * time.Minute
	}
	if cfg.ServerPort <= 0 {
		cfg.ServerPort = 8080
	}
	if cfg.HostTemplate == "" {
		cfg.HostTemplate = "{host}:{port}"
	}
	return &ClaimProvider{client: c, cfg: cfg}
}

// NewScheme returns a runtime.Scheme with the agent-sandbox types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register sandbox types: %w", err)
	}
	if err := extensionsv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register extensions types: %w", err)
	}
	return scheme, nil
}

// Create implements sandbox.Provider. It creates a SandboxClaim for the
// template and waits until the claimed Sandbox is ready. On failure the
// claim is deleted.
func (p *ClaimProvider) Create(ctx context.Context, template string) (string, error) {
	claimName := generateClaimNameFn()

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      claimName,
			Namespace: p.cfg.Namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "vibe",
			},
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{
				Name: template,
			},
		},
	}

	if err := p.client.Create(ctx, claim); err != nil {
		return "", fmt.Errorf("create SandboxClaim %q: %w", claimName, err)
	}
	debug.Log("sandbox", "created SandboxClaim", "name", claimName, "namespace", p.cfg.Namespace, "template", template)

	if _, err := p.waitForReady(ctx, claimName); err != nil {
		p.deleteClaim(context.Background(), claimName)
		return "", err
	}

	slog.Info("sandbox ready", "sandbox_id", claimName, "template", template)
	return claimName, nil
}

// Connect implements sandbox.Provider.
func (p *ClaimProvider) Connect(ctx context.Context, id string) (sandbox.Sandbox, error) {
	sbx := &sandboxv1alpha1.Sandbox{}
	key := types.NamespacedName{Name: id, Namespace: p.cfg.Namespace}
	if err := p.client.Get(ctx, key, sbx); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", sandbox.ErrUnknownSandbox, id)
		}
		return nil, fmt.Errorf("get Sandbox %q: %w", id, err)
	}
	if !isReady(sbx) || sbx.Status.ServiceFQDN == "" {
		return nil, fmt.Errorf("sandbox %q is not ready", id)
	}

	fqdn := sbx.Status.ServiceFQDN
	opts := []sandbox.ClientOption{
		sandbox.WithHostFunc(func(port int) string {
			return sandbox.ExpandHost(p.cfg.HostTemplate, id, fqdn, port)
		}),
	}
	if p.cfg.HTTPClient != nil {
		opts = append(opts, sandbox.WithHTTPClient(p.cfg.HTTPClient))
	}
	baseURL := fmt.Sprintf("http://%s:%d", fqdn, p.cfg.ServerPort)
	return sandbox.NewClient(id, baseURL, opts...), nil
}

// waitForReady polls the Sandbox resource until its Ready condition is True
// and the service FQDN is populated, or the claim timeout expires.
func (p *ClaimProvider) waitForReady(ctx context.Context, sandboxName string) (string, error) {
	deadline := time.After(p.cfg.ClaimTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("context cancelled waiting for Sandbox %q: %w", sandboxName, ctx.Err())
		case <-deadline:
			return "", fmt.Errorf("timeout waiting for Sandbox %q to become ready (waited %s)", sandboxName, p.cfg.ClaimTimeout)
		case <-ticker.C:
			sbx := &sandboxv1alpha1.Sandbox{}
			key := types.NamespacedName{Name: sandboxName, Namespace: p.cfg.Namespace}
			if err := p.client.Get(ctx, key, sbx); err != nil {
				// The controller may not have created the Sandbox yet.
				debug.Log("sandbox", "waiting for Sandbox", "name", sandboxName, "error", err.Error())
				continue
			}
			if isReady(sbx) && sbx.Status.ServiceFQDN != "" {
				return sbx.Status.ServiceFQDN, nil
			}
		}
	}
}

// isReady checks if the Sandbox has a Ready condition set to True.
func isReady(sbx *sandboxv1alpha1.Sandbox) bool {
	for _, c := range sbx.Status.Conditions {
		if c.Type == string(sandboxv1alpha1.SandboxConditionReady) && c.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}

// deleteClaim deletes a SandboxClaim. Errors are logged, not returned.
func (p *ClaimProvider) deleteClaim(ctx context.Context, name string) {
	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: p.cfg.Namespace,
		},
	}
	if err := p.client.Delete(ctx, claim); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("failed to delete SandboxClaim", "name", name, "namespace", p.cfg.Namespace, "error", err.Error())
		return
	}
	debug.Log("sandbox", "deleted SandboxClaim", "name", name, "namespace", p.cfg.Namespace)
}

// generateClaimNameFn creates a unique DNS-1123 name for a SandboxClaim.
// Replaceable in tests for deterministic naming.
var generateClaimNameFn = func() string {
	return "vibe-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
