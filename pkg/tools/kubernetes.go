package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/duration"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/codeready-toolchain/vigil/pkg/guard"
)

// KubernetesAdapter wraps one cluster's API surface as catalog tools.
// The clientset is long-lived and shared across calls; the cluster guard is
// consulted at construction, so an adapter for a forbidden cluster can
// never exist.
type KubernetesAdapter struct {
	cluster string
	client  kubernetes.Interface
	metrics metricsclient.Interface
	logger  *slog.Logger
}

// LoadRestConfig builds a rest.Config: in-cluster when running as a pod,
// otherwise from the kubeconfig path (or its default location).
func LoadRestConfig(kubeconfigPath string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	if kubeconfigPath == "" {
		kubeconfigPath = os.Getenv("KUBECONFIG")
	}
	if kubeconfigPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot locate kubeconfig: %w", err)
		}
		kubeconfigPath = home + "/.kube/config"
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig %s: %w", kubeconfigPath, err)
	}
	return cfg, nil
}

// NewKubernetesAdapter creates the adapter after the guard admits the
// cluster. The metrics clientset is optional; top_pods degrades without it.
func NewKubernetesAdapter(g *guard.Guard, cluster string, restConfig *rest.Config) (*KubernetesAdapter, error) {
	if err := g.Require(cluster); err != nil {
		return nil, err
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes client: %w", err)
	}
	mc, err := metricsclient.NewForConfig(restConfig)
	if err != nil {
		slog.Warn("Metrics client unavailable, top_pods will degrade", "error", err)
		mc = nil
	}
	return &KubernetesAdapter{
		cluster: cluster,
		client:  client,
		metrics: mc,
		logger:  slog.Default().With("component", "k8s-tools", "cluster", cluster),
	}, nil
}

// NewKubernetesAdapterWithClients builds an adapter around pre-built
// clientsets. Used by tests with fake clientsets.
func NewKubernetesAdapterWithClients(g *guard.Guard, cluster string, client kubernetes.Interface, metrics metricsclient.Interface) (*KubernetesAdapter, error) {
	if err := g.Require(cluster); err != nil {
		return nil, err
	}
	return &KubernetesAdapter{
		cluster: cluster,
		client:  client,
		metrics: metrics,
		logger:  slog.Default().With("component", "k8s-tools", "cluster", cluster),
	}, nil
}

// Cluster returns the adapter's cluster name.
func (a *KubernetesAdapter) Cluster() string { return a.cluster }

// DeploymentReplicas returns the current replica count of a deployment.
// Consumed by the safety validator's downtime rules.
func (a *KubernetesAdapter) DeploymentReplicas(ctx context.Context, namespace, name string) (int32, error) {
	dep, err := a.client.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return 0, classifyK8sError(err)
	}
	if dep.Spec.Replicas == nil {
		return 1, nil
	}
	return *dep.Spec.Replicas, nil
}

// Register adds every Kubernetes tool to the catalog.
func (a *KubernetesAdapter) Register(c *Catalog) {
	namespaceProp := Property{Type: "string", Description: "Namespace to scope the call to"}

	c.MustRegister(Descriptor{
		Name:         "list_pods",
		Description:  "List pods in a namespace with status, restarts and node. Always scope with namespace and selectors; cluster-wide listings are capped.",
		Category:     CategoryRead,
		TargetSystem: "kubernetes",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"namespace":      namespaceProp,
				"label_selector": {Type: "string", Description: "Label selector, e.g. app=api"},
				"field_selector": {Type: "string", Description: "Field selector, e.g. status.phase=Pending"},
				"limit":          {Type: "integer", Description: "Maximum pods to return (default 100)"},
			},
			Required: []string{"namespace"},
		},
	}, a.listPods)

	c.MustRegister(Descriptor{
		Name:         "get_pod",
		Description:  "Get one pod's status, containers, restart counts and conditions.",
		Category:     CategoryRead,
		TargetSystem: "kubernetes",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"namespace": namespaceProp,
				"name":      {Type: "string", Description: "Pod name"},
			},
			Required: []string{"namespace", "name"},
		},
	}, a.getPod)

	c.MustRegister(Descriptor{
		Name:         "get_events",
		Description:  "List recent events in a namespace, most recent first.",
		Category:     CategoryRead,
		TargetSystem: "kubernetes",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"namespace":      namespaceProp,
				"field_selector": {Type: "string", Description: "Field selector, e.g. involvedObject.name=api-abc"},
				"limit":          {Type: "integer", Description: "Maximum events to return (default 50)"},
			},
			Required: []string{"namespace"},
		},
	}, a.getEvents)

	c.MustRegister(Descriptor{
		Name:         "get_logs",
		Description:  "Fetch the tail of a pod's logs. Use previous=true for the crashed container's last run.",
		Category:     CategoryRead,
		TargetSystem: "kubernetes",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"namespace":  namespaceProp,
				"pod":        {Type: "string", Description: "Pod name"},
				"container":  {Type: "string", Description: "Container name (defaults to the first container)"},
				"tail_lines": {Type: "integer", Description: "Lines from the end (default 200)"},
				"previous":   {Type: "boolean", Description: "Logs of the previous container instance"},
			},
			Required: []string{"namespace", "pod"},
		},
	}, a.getLogs)

	c.MustRegister(Descriptor{
		Name:         "top_pods",
		Description:  "Current CPU and memory usage per pod in a namespace, from the metrics API.",
		Category:     CategoryRead,
		TargetSystem: "kubernetes",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"namespace": namespaceProp,
			},
			Required: []string{"namespace"},
		},
	}, a.topPods)

	c.MustRegister(Descriptor{
		Name:         "list_nodes",
		Description:  "List cluster nodes with readiness, roles and kubelet version.",
		Category:     CategoryRead,
		TargetSystem: "kubernetes",
		InputSchema:  &Schema{Properties: map[string]Property{}},
	}, a.listNodes)

	c.MustRegister(Descriptor{
		Name:         "list_deployments",
		Description:  "List deployments in a namespace with replica readiness.",
		Category:     CategoryRead,
		TargetSystem: "kubernetes",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"namespace": namespaceProp,
			},
			Required: []string{"namespace"},
		},
	}, a.listDeployments)

	c.MustRegister(Descriptor{
		Name:         "delete_pod",
		Description:  "Delete one pod so its controller reschedules it.",
		Category:     CategoryDestructive,
		TargetSystem: "kubernetes",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"namespace": namespaceProp,
				"name":      {Type: "string", Description: "Pod name"},
			},
			Required: []string{"namespace", "name"},
		},
	}, a.deletePod)

	c.MustRegister(Descriptor{
		Name:         "rollout_restart",
		Description:  "Trigger a rolling restart of a deployment.",
		Category:     CategoryDestructive,
		TargetSystem: "kubernetes",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"namespace":  namespaceProp,
				"deployment": {Type: "string", Description: "Deployment name"},
			},
			Required: []string{"namespace", "deployment"},
		},
	}, a.rolloutRestart)

	c.MustRegister(Descriptor{
		Name:         "scale_deployment",
		Description:  "Scale a deployment to the given replica count.",
		Category:     CategoryDestructive,
		TargetSystem: "kubernetes",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"namespace":  namespaceProp,
				"deployment": {Type: "string", Description: "Deployment name"},
				"replicas":   {Type: "integer", Description: "Desired replica count"},
			},
			Required: []string{"namespace", "deployment", "replicas"},
		},
	}, a.scaleDeployment)

	c.MustRegister(Descriptor{
		Name:         "apply_manifest",
		Description:  "Apply a Deployment manifest (YAML). Only Deployment kinds are accepted.",
		Category:     CategoryDestructive,
		TargetSystem: "kubernetes",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"manifest": {Type: "string", Description: "YAML manifest of a Deployment"},
			},
			Required: []string{"manifest"},
		},
	}, a.applyManifest)
}

func (a *KubernetesAdapter) listPods(ctx context.Context, args map[string]any) (*Result, error) {
	namespace := StringArg(args, "namespace")
	labelSelector := StringArg(args, "label_selector")
	limit := IntArg(args, "limit", DefaultListLimit)

	list, err := a.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
		FieldSelector: StringArg(args, "field_selector"),
		Limit:         int64(limit),
	})
	if err != nil {
		return nil, classifyK8sError(err)
	}

	// Re-filter client-side: the output cap contract must hold even when an
	// upstream ignores the selector.
	pods := list.Items
	if labelSelector != "" {
		if sel, serr := labels.Parse(labelSelector); serr == nil {
			filtered := pods[:0]
			for _, p := range pods {
				if sel.Matches(labels.Set(p.Labels)) {
					filtered = append(filtered, p)
				}
			}
			pods = filtered
		}
	}

	capped := false
	if len(pods) > limit {
		pods = pods[:limit]
		capped = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d pods in %s/%s\n", len(pods), a.cluster, namespace)
	fmt.Fprintf(&b, "%-50s %-8s %-20s %-9s %-8s %s\n", "NAME", "READY", "STATUS", "RESTARTS", "AGE", "NODE")
	for _, p := range pods {
		ready, total, restarts := podContainerSummary(&p)
		fmt.Fprintf(&b, "%-50s %d/%-6d %-20s %-9d %-8s %s\n",
			p.Name, ready, total, podPhase(&p), restarts,
			duration.HumanDuration(time.Since(p.CreationTimestamp.Time)), p.Spec.NodeName)
	}
	res := TextResult(b.String())
	if capped || list.Continue != "" {
		res.Truncated = true
		res.Content += fmt.Sprintf("\n[TRUNCATED: listing capped at %d pods — narrow with label or field selectors]\n", limit)
	}
	return res, nil
}

func (a *KubernetesAdapter) getPod(ctx context.Context, args map[string]any) (*Result, error) {
	namespace := StringArg(args, "namespace")
	name := StringArg(args, "name")

	pod, err := a.client.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classifyK8sError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pod %s/%s on %s\n", namespace, pod.Name, pod.Spec.NodeName)
	fmt.Fprintf(&b, "Phase: %s  Started: %s\n", podPhase(pod),
		pod.CreationTimestamp.Format(time.RFC3339))
	for _, cs := range pod.Status.ContainerStatuses {
		state := "Running"
		detail := ""
		switch {
		case cs.State.Waiting != nil:
			state = cs.State.Waiting.Reason
			detail = cs.State.Waiting.Message
		case cs.State.Terminated != nil:
			state = cs.State.Terminated.Reason
			detail = fmt.Sprintf("exit %d", cs.State.Terminated.ExitCode)
		}
		fmt.Fprintf(&b, "Container %s: %s restarts=%d ready=%t %s\n",
			cs.Name, state, cs.RestartCount, cs.Ready, detail)
		if cs.LastTerminationState.Terminated != nil {
			lt := cs.LastTerminationState.Terminated
			fmt.Fprintf(&b, "  last termination: %s exit=%d at %s\n",
				lt.Reason, lt.ExitCode, lt.FinishedAt.Format(time.RFC3339))
		}
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			fmt.Fprintf(&b, "Condition %s=%s: %s\n", cond.Type, cond.Status, cond.Message)
		}
	}
	return TextResult(b.String()), nil
}

func (a *KubernetesAdapter) getEvents(ctx context.Context, args map[string]any) (*Result, error) {
	namespace := StringArg(args, "namespace")
	limit := IntArg(args, "limit", 50)

	list, err := a.client.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{
		FieldSelector: StringArg(args, "field_selector"),
		Limit:         int64(limit),
	})
	if err != nil {
		return nil, classifyK8sError(err)
	}

	events := list.Items
	sort.Slice(events, func(i, j int) bool {
		return eventTime(&events[i]).After(eventTime(&events[j]))
	})
	if len(events) > limit {
		events = events[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d events in %s\n", len(events), namespace)
	for _, e := range events {
		fmt.Fprintf(&b, "%s %s %s %s/%s: %s (x%d)\n",
			eventTime(&e).Format(time.RFC3339), e.Type, e.Reason,
			e.InvolvedObject.Kind, e.InvolvedObject.Name, e.Message, max32(e.Count, 1))
	}
	return TextResult(b.String()), nil
}

func (a *KubernetesAdapter) getLogs(ctx context.Context, args map[string]any) (*Result, error) {
	namespace := StringArg(args, "namespace")
	pod := StringArg(args, "pod")
	tail := int64(IntArg(args, "tail_lines", DefaultLogTailLines))

	opts := &corev1.PodLogOptions{
		TailLines: &tail,
		Previous:  BoolArg(args, "previous", false),
	}
	if container := StringArg(args, "container"); container != "" {
		opts.Container = container
	}

	raw, err := a.client.CoreV1().Pods(namespace).GetLogs(pod, opts).Do(ctx).Raw()
	if err != nil {
		return nil, classifyK8sError(err)
	}
	if len(raw) == 0 {
		return TextResult(fmt.Sprintf("(no log output for %s/%s)", namespace, pod)), nil
	}
	return TextResult(string(raw)), nil
}

func (a *KubernetesAdapter) topPods(ctx context.Context, args map[string]any) (*Result, error) {
	namespace := StringArg(args, "namespace")
	if a.metrics == nil {
		return nil, NewUpstreamError("metrics API is not available on cluster %s", a.cluster)
	}

	list, err := a.metrics.MetricsV1beta1().PodMetricses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classifyK8sError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-50s %-12s %s\n", "POD", "CPU", "MEMORY")
	for _, pm := range list.Items {
		// A pod mid-startup can report a metrics item with no containers yet.
		if len(pm.Containers) == 0 {
			continue
		}
		cpu := pm.Containers[0].Usage.Cpu()
		mem := pm.Containers[0].Usage.Memory()
		for _, c := range pm.Containers[1:] {
			cpu.Add(*c.Usage.Cpu())
			mem.Add(*c.Usage.Memory())
		}
		fmt.Fprintf(&b, "%-50s %-12s %s\n", pm.Name, cpu.String(), mem.String())
	}
	return TextResult(b.String()), nil
}

func (a *KubernetesAdapter) listNodes(ctx context.Context, _ map[string]any) (*Result, error) {
	list, err := a.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classifyK8sError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d nodes in %s\n", len(list.Items), a.cluster)
	fmt.Fprintf(&b, "%-40s %-10s %-8s %s\n", "NAME", "STATUS", "AGE", "VERSION")
	for _, n := range list.Items {
		status := "NotReady"
		for _, cond := range n.Status.Conditions {
			if cond.Type == corev1.NodeReady && cond.Status == corev1.ConditionTrue {
				status = "Ready"
			}
		}
		fmt.Fprintf(&b, "%-40s %-10s %-8s %s\n", n.Name, status,
			duration.HumanDuration(time.Since(n.CreationTimestamp.Time)),
			n.Status.NodeInfo.KubeletVersion)
	}
	return TextResult(b.String()), nil
}

func (a *KubernetesAdapter) listDeployments(ctx context.Context, args map[string]any) (*Result, error) {
	namespace := StringArg(args, "namespace")

	list, err := a.client.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classifyK8sError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d deployments in %s\n", len(list.Items), namespace)
	fmt.Fprintf(&b, "%-40s %-8s %-10s %-10s %s\n", "NAME", "READY", "UP-TO-DATE", "AVAILABLE", "AGE")
	for _, d := range list.Items {
		replicas := int32(1)
		if d.Spec.Replicas != nil {
			replicas = *d.Spec.Replicas
		}
		fmt.Fprintf(&b, "%-40s %d/%-6d %-10d %-10d %s\n",
			d.Name, d.Status.ReadyReplicas, replicas,
			d.Status.UpdatedReplicas, d.Status.AvailableReplicas,
			duration.HumanDuration(time.Since(d.CreationTimestamp.Time)))
	}
	return TextResult(b.String()), nil
}

func (a *KubernetesAdapter) deletePod(ctx context.Context, args map[string]any) (*Result, error) {
	namespace := StringArg(args, "namespace")
	name := StringArg(args, "name")

	if err := a.client.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		return nil, classifyK8sError(err)
	}
	a.logger.Info("Deleted pod", "namespace", namespace, "pod", name)
	return TextResult(fmt.Sprintf("deleted pod %s/%s", namespace, name)), nil
}

func (a *KubernetesAdapter) rolloutRestart(ctx context.Context, args map[string]any) (*Result, error) {
	namespace := StringArg(args, "namespace")
	name := StringArg(args, "deployment")

	// Same mechanism as kubectl rollout restart: patch the pod template's
	// restartedAt annotation so the deployment controller rolls new pods.
	patch := fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{"kubectl.kubernetes.io/restartedAt":%q}}}}}`,
		time.Now().Format(time.RFC3339))
	_, err := a.client.AppsV1().Deployments(namespace).Patch(ctx, name,
		types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		return nil, classifyK8sError(err)
	}
	a.logger.Info("Restarted deployment", "namespace", namespace, "deployment", name)
	return TextResult(fmt.Sprintf("rollout restart triggered for deployment %s/%s", namespace, name)), nil
}

func (a *KubernetesAdapter) scaleDeployment(ctx context.Context, args map[string]any) (*Result, error) {
	namespace := StringArg(args, "namespace")
	name := StringArg(args, "deployment")
	replicas := int32(IntArg(args, "replicas", -1))
	if replicas < 0 {
		return nil, NewValidationError("replicas must be a non-negative integer")
	}

	scale, err := a.client.AppsV1().Deployments(namespace).GetScale(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classifyK8sError(err)
	}
	previous := scale.Spec.Replicas
	scale.Spec.Replicas = replicas
	if _, err := a.client.AppsV1().Deployments(namespace).UpdateScale(ctx, name, scale, metav1.UpdateOptions{}); err != nil {
		return nil, classifyK8sError(err)
	}
	a.logger.Info("Scaled deployment",
		"namespace", namespace, "deployment", name,
		"from", previous, "to", replicas)
	return TextResult(fmt.Sprintf("scaled deployment %s/%s from %d to %d replicas",
		namespace, name, previous, replicas)), nil
}

func (a *KubernetesAdapter) applyManifest(ctx context.Context, args map[string]any) (*Result, error) {
	manifest := StringArg(args, "manifest")

	obj, _, err := scheme.Codecs.UniversalDeserializer().Decode([]byte(manifest), nil, nil)
	if err != nil {
		return nil, NewValidationError("manifest does not parse: %v", err)
	}
	dep, ok := obj.(*appsv1.Deployment)
	if !ok {
		return nil, NewValidationError("only Deployment manifests are accepted, got %T", obj)
	}
	if dep.Namespace == "" {
		return nil, NewValidationError("manifest must set metadata.namespace")
	}

	_, err = a.client.AppsV1().Deployments(dep.Namespace).Update(ctx, dep, metav1.UpdateOptions{})
	if k8serrors.IsNotFound(err) {
		_, err = a.client.AppsV1().Deployments(dep.Namespace).Create(ctx, dep, metav1.CreateOptions{})
	}
	if err != nil {
		return nil, classifyK8sError(err)
	}
	a.logger.Info("Applied deployment manifest", "namespace", dep.Namespace, "deployment", dep.Name)
	return TextResult(fmt.Sprintf("applied deployment %s/%s", dep.Namespace, dep.Name)), nil
}

// classifyK8sError maps apimachinery status errors to tool error kinds.
func classifyK8sError(err error) *ToolError {
	switch {
	case err == nil:
		return nil
	case k8serrors.IsNotFound(err):
		return NewNotFoundError("%s", err.Error())
	case k8serrors.IsUnauthorized(err) || k8serrors.IsForbidden(err):
		return NewUnauthorizedError("%s", err.Error())
	case k8serrors.IsTooManyRequests(err):
		return NewThrottledError("%s", err.Error())
	case k8serrors.IsTimeout(err) || k8serrors.IsServerTimeout(err):
		return NewTimeoutError("%s", err.Error())
	case k8serrors.IsInvalid(err) || k8serrors.IsBadRequest(err):
		return NewValidationError("%s", err.Error())
	default:
		return AsToolError(err)
	}
}

func podPhase(p *corev1.Pod) string {
	for _, cs := range p.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
	}
	if p.DeletionTimestamp != nil {
		return "Terminating"
	}
	return string(p.Status.Phase)
}

func podContainerSummary(p *corev1.Pod) (ready, total int, restarts int32) {
	total = len(p.Spec.Containers)
	for _, cs := range p.Status.ContainerStatuses {
		if cs.Ready {
			ready++
		}
		restarts += cs.RestartCount
	}
	return ready, total, restarts
}

func eventTime(e *corev1.Event) time.Time {
	if !e.LastTimestamp.IsZero() {
		return e.LastTimestamp.Time
	}
	return e.CreationTimestamp.Time
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
