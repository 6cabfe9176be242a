package k8s

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/mjcarson/thorium/config"
	"github.com/mjcarson/thorium/scheduler"
)

const (
	// Namespace all Thorium workers run in.
	namespace = "thorium"
	// Label stamped on every pod we create.
	managedLabel = "thorium.dev/managed"
	userLabel    = "thorium.dev/user"
	groupLabel   = "thorium.dev/group"
)

// Backend schedules Thorium workers as pods on one kubernetes cluster.
type Backend struct {
	cluster      string
	nodeSelector string
	client       kubernetes.Interface
	// When pods entered a creating state, to spot ones that wedge.
	creating map[string]time.Time
}

// New connects to the cluster described by conf.
func New(conf config.K8sCluster) (*Backend, error) {
	client, err := newClientset(conf.Context)
	if err != nil {
		return nil, err
	}
	return NewWithClient(conf, client), nil
}

// NewWithClient wires a backend over an existing clientset. Tests use
// this with a fake.
func NewWithClient(conf config.K8sCluster, client kubernetes.Interface) *Backend {
	return &Backend{
		cluster:      conf.Name,
		nodeSelector: conf.NodeSelector,
		client:       client,
		creating:     make(map[string]time.Time),
	}
}

// Setup makes sure our namespace exists. Rerunning it is free.
func (b *Backend) Setup(ctx context.Context, cache *scheduler.Cache) (map[string]string, error) {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: namespace}}
	_, err := b.client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return nil, err
	}
	// Images without a container image can never become pods here.
	banned := make(map[string]string)
	for _, img := range cache.Images() {
		if img.ContainerImage == "" {
			banned[img.Group+"/"+img.Name] = "image has no container image set"
		}
	}
	log.WithFields(log.Fields{"cluster": b.cluster, "banned": len(banned)}).Info("k8s setup complete")
	return banned, nil
}

func (b *Backend) SyncToNewCache(ctx context.Context, old, fresh *scheduler.Cache) (map[string]string, error) {
	return b.Setup(ctx, fresh)
}

func (b *Backend) TaskDelay(task scheduler.Task) time.Duration {
	return scheduler.DefaultTaskDelay(task)
}
