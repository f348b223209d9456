// Package inventory implements the Cluster Inventory Collector (spec.md
// §4.2): it walks every configured kubeconfig context (or falls back to
// in-cluster credentials), lists pods and cronjobs, and folds what it finds
// into a model.ImageUsage snapshot. The canonical-image-name and age
// heuristics are ported from original_source/k8s-inventory.py; the
// in-cluster/kubeconfig fallback and client construction follow
// frobware-bpfman-hacks/bpfman-purger's initKubeClient.
package inventory

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/vgnett/registry-gc/internal/model"
)

// FatalError wraps an API error that makes the whole run unsafe to use for
// eviction decisions (spec.md §4.2, §7 InventoryFatal): a partial snapshot
// understates usage, so the caller must abort rather than continue.
type FatalError struct {
	Context string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("inventory collection fatal in context %q: %v", e.Context, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ClientFactory produces a Kubernetes clientset for a named context.
// Production code uses NewClientFactory; tests inject a fake.
type ClientFactory func(context string) (kubernetes.Interface, error)

// Collector runs the inventory algorithm against one or more cluster
// contexts and accumulates results into a single model.ImageUsage.
type Collector struct {
	newClient      ClientFactory
	maxAgeDays     float64
	now            func() time.Time
	kubeconfigPath string
}

// Option configures a Collector.
type Option func(*Collector)

// WithMaxAgeDays overrides the default 31-day cutoff past which a
// non-live container occurrence is dropped (spec.md §4.2 step 2c).
func WithMaxAgeDays(days float64) Option {
	return func(c *Collector) { c.maxAgeDays = days }
}

// WithClock overrides the collector's notion of "now", for deterministic
// tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithKubeconfigPath tells Collect which kubeconfig file to enumerate
// contexts from when Collect is called with no explicit contexts. An
// empty path (the default) uses the client-go default loading rules
// (KUBECONFIG env var, then ~/.kube/config).
func WithKubeconfigPath(path string) Option {
	return func(c *Collector) { c.kubeconfigPath = path }
}

// NewCollector builds a Collector. factory is usually NewClientFactory();
// tests pass one backed by k8s.io/client-go/kubernetes/fake.
func NewCollector(factory ClientFactory, opts ...Option) *Collector {
	c := &Collector{
		newClient:  factory,
		maxAgeDays: 31,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFactory returns a ClientFactory that builds a real clientset for
// context name "" in-cluster, or a named kubeconfig context otherwise.
func NewClientFactory(kubeconfigPath string) ClientFactory {
	return func(contextName string) (kubernetes.Interface, error) {
		cfg, err := buildRESTConfig(kubeconfigPath, contextName)
		if err != nil {
			return nil, err
		}
		return kubernetes.NewForConfig(cfg)
	}
}

func buildRESTConfig(kubeconfigPath, contextName string) (*rest.Config, error) {
	if contextName == "" {
		cfg, err := rest.InClusterConfig()
		if err == nil {
			return cfg, nil
		}
	}

	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath}
	overrides := &clientcmd.ConfigOverrides{}
	if contextName != "" {
		overrides.CurrentContext = contextName
	}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("build kubeconfig for context %q: %w", contextName, err)
	}
	return cfg, nil
}

// ListContexts enumerates every context name in the kubeconfig at path,
// using client-go's default loading precedence (KUBECONFIG env var, then
// ~/.kube/config) when path is empty — the same precedence buildRESTConfig
// uses to actually connect. An empty result (kubeconfig missing or empty)
// signals the caller should fall back to a single in-cluster context,
// matching k8s-inventory.py's ConfigException fallback chain.
func ListContexts(kubeconfigPath string) ([]string, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		loadingRules.ExplicitPath = kubeconfigPath
	}
	cfg, err := loadingRules.Load()
	if err != nil {
		return nil, nil
	}
	names := make([]string, 0, len(cfg.Contexts))
	for name := range cfg.Contexts {
		names = append(names, name)
	}
	return names, nil
}

// Collect runs the full algorithm against contexts in order, accumulating
// into usage. An empty contexts slice means "walk every context in the
// kubeconfig" (spec.md §4.2, matching k8s-inventory.py's behavior when no
// contexts are named on the command line): Collect calls ListContexts and
// uses whatever it finds, falling back to a single in-cluster context (the
// factory called with context name "") only if the kubeconfig has none.
//
// Any API error while listing pods is fatal for the whole run (spec.md
// §4.2). A 403 listing CronJobs is likewise fatal; a 404 is treated as "no
// CronJobs" and the context continues.
func (col *Collector) Collect(ctx context.Context, contexts []string, usage model.ImageUsage) error {
	if len(contexts) == 0 {
		discovered, err := ListContexts(col.kubeconfigPath)
		if err != nil {
			return &FatalError{Err: err}
		}
		contexts = discovered
	}
	if len(contexts) == 0 {
		contexts = []string{""}
	}
	for _, name := range contexts {
		client, err := col.newClient(name)
		if err != nil {
			return &FatalError{Context: name, Err: err}
		}
		if err := col.collectPods(ctx, client, name, usage); err != nil {
			return &FatalError{Context: name, Err: err}
		}
		if err := col.collectCronJobs(ctx, client, usage); err != nil {
			return &FatalError{Context: name, Err: err}
		}
	}
	return nil
}

func (col *Collector) collectPods(ctx context.Context, client kubernetes.Interface, contextName string, usage model.ImageUsage) error {
	pods, err := client.CoreV1().Pods("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("list pods: %w", err)
	}

	now := col.now()
	for _, pod := range pods.Items {
		col.observePod(&pod, contextName, now, usage)
	}
	return nil
}

func (col *Collector) observePod(pod *corev1.Pod, contextName string, now time.Time, usage model.ImageUsage) {
	if len(pod.Status.ContainerStatuses) == 0 {
		return
	}

	podHasIPBO := false
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason == "ImagePullBackOff" {
			podHasIPBO = true
			break
		}
	}

	podAgeDays := 0.0
	live := pod.Status.Phase == corev1.PodPending || pod.Status.Phase == corev1.PodRunning || podHasIPBO
	if !live && pod.Status.StartTime != nil {
		podAgeDays = now.Sub(pod.Status.StartTime.Time).Hours() / 24
	}

	podImages := make([]string, 0, len(pod.Spec.Containers))
	for _, c := range pod.Spec.Containers {
		podImages = append(podImages, c.Image)
	}
	imageByDigest := model.ImageByDigest(podImages)

	occKey := model.OccurrenceKey(contextName, pod.Namespace, pod.Name)

	for _, cs := range pod.Status.ContainerStatuses {
		imageName := cs.Image
		if imageName == "" || !containsSlash(imageName) {
			imageName = cs.ImageID
		}

		var digest string
		if at := indexOf(imageName, '@'); at >= 0 && len(imageByDigest) > 0 {
			digest = imageName[at+1:]
			if resolved, ok := imageByDigest[digest]; ok {
				imageName = resolved
			}
		}
		if indexOf(imageName, '@') >= 0 && len(podImages) == 1 {
			imageName = podImages[0]
		}
		if imageName == "" {
			continue
		}

		ipbo := cs.State.Waiting != nil && cs.State.Waiting.Reason == "ImagePullBackOff"

		cAgeDays := podAgeDays
		switch {
		case cs.State.Running != nil:
			cAgeDays = 0
		case cs.State.Terminated != nil:
			cAgeDays = now.Sub(cs.State.Terminated.StartedAt.Time).Hours() / 24
		}

		liveContainer := ipbo || pod.Status.Phase == corev1.PodPending || pod.Status.Phase == corev1.PodRunning
		if !liveContainer && cAgeDays > col.maxAgeDays {
			continue
		}

		phase := string(pod.Status.Phase)
		usage.Observe(imageName, occKey, phase, ipbo, pod.Spec.NodeName, cAgeDays, digest)
	}
}

func containsSlash(s string) bool { return indexOf(s, '/') >= 0 }

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func (col *Collector) collectCronJobs(ctx context.Context, client kubernetes.Interface, usage model.ImageUsage) error {
	cronjobs, err := client.BatchV1().CronJobs("").List(ctx, metav1.ListOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("list cronjobs: %w", err)
	}

	for _, cj := range cronjobs.Items {
		for _, c := range cj.Spec.JobTemplate.Spec.Template.Spec.Containers {
			if c.Image == "" {
				return fmt.Errorf("cronjob %s/%s: container %s has no image", cj.Namespace, cj.Name, c.Name)
			}
			usage.MarkCronjob(c.Image)
		}
	}
	return nil
}
