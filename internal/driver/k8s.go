package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/chameleoncloud/doni/internal/conf"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

// K8sWorker labels the Kubernetes node backing a hardware item so that
// workloads can be scheduled onto it.
type K8sWorker struct {
	client kubernetes.Interface
	cfg    conf.K8sConfig
	logger *zap.Logger
}

// NewK8sWorker builds a worker from the k8s config section. An empty
// kubeconfig path selects in-cluster configuration.
func NewK8sWorker(cfg conf.K8sConfig, logger *zap.Logger) (*K8sWorker, error) {
	var restCfg *rest.Config
	var err error
	if cfg.KubeconfigFile != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.KubeconfigFile)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return NewK8sWorkerWithClient(client, cfg, logger), nil
}

// NewK8sWorkerWithClient builds a worker around an existing clientset.
func NewK8sWorkerWithClient(client kubernetes.Interface, cfg conf.K8sConfig, logger *zap.Logger) *K8sWorker {
	if cfg.ExpectedLabelsIndexProperty == "" {
		cfg.ExpectedLabelsIndexProperty = "machine_name"
	}
	return &K8sWorker{client: client, cfg: cfg, logger: logger}
}

func (w *K8sWorker) WorkerType() string { return "k8s" }

// Fields is empty: the index property is declared by the hardware types that
// enable this worker.
func (w *K8sWorker) Fields() []worker.Field { return nil }

func (w *K8sWorker) Process(ctx context.Context, hw *models.Hardware, windows []*models.AvailabilityWindow, stateDetails map[string]any) (worker.Result, error) {
	idx, _ := hw.Properties[w.cfg.ExpectedLabelsIndexProperty].(string)
	if idx == "" {
		return nil, fmt.Errorf("missing %s on hardware %s", w.cfg.ExpectedLabelsIndexProperty, hw.UUID)
	}

	labels, err := parseLabelSpec(w.cfg.ExpectedLabels[idx])
	if err != nil {
		return nil, fmt.Errorf("invalid expected_labels for %q: %w", idx, err)
	}

	if hw.Deleted() {
		return w.removeLabels(ctx, hw, labels)
	}

	if len(labels) == 0 {
		return worker.Success{Details: map[string]any{"num_labels": 0}}, nil
	}

	patch, err := labelPatch(labels)
	if err != nil {
		return nil, err
	}

	_, err = w.client.CoreV1().Nodes().Patch(ctx, hw.Name, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if k8serrors.IsNotFound(err) {
		return worker.Defer{Reason: "no matching k8s node found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to patch node %s: %w", hw.Name, err)
	}

	w.logger.Info("labeled k8s node",
		zap.String("hardware_uuid", hw.UUID),
		zap.String("node", hw.Name),
		zap.Int("num_labels", len(labels)),
	)
	return worker.Success{Details: map[string]any{"num_labels": len(labels)}}, nil
}

// removeLabels clears the managed labels from the node after the hardware was
// soft-deleted. A node that is already gone needs no cleanup.
func (w *K8sWorker) removeLabels(ctx context.Context, hw *models.Hardware, labels map[string]string) (worker.Result, error) {
	if len(labels) == 0 {
		return worker.Success{Details: map[string]any{"num_labels": 0}}, nil
	}

	nulled := make(map[string]*string, len(labels))
	for key := range labels {
		nulled[key] = nil
	}
	patch, err := json.Marshal(map[string]any{"metadata": map[string]any{"labels": nulled}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode label patch: %w", err)
	}

	_, err = w.client.CoreV1().Nodes().Patch(ctx, hw.Name, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil && !k8serrors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to unlabel node %s: %w", hw.Name, err)
	}
	return worker.Success{Details: map[string]any{"num_labels": 0}}, nil
}

// parseLabelSpec expands "key1=value1,key2=value2" into a label map.
func parseLabelSpec(spec string) (map[string]string, error) {
	labels := make(map[string]string)
	if spec == "" {
		return labels, nil
	}
	for _, pair := range strings.Split(spec, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("malformed label spec %q", pair)
		}
		labels[key] = value
	}
	return labels, nil
}

func labelPatch(labels map[string]string) ([]byte, error) {
	patch, err := json.Marshal(map[string]any{"metadata": map[string]any{"labels": labels}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode label patch: %w", err)
	}
	return patch, nil
}

var _ worker.Worker = (*K8sWorker)(nil)
