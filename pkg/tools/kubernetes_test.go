package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsfake "k8s.io/metrics/pkg/client/clientset/versioned/fake"

	"github.com/codeready-toolchain/vigil/pkg/guard"
)

func testK8sAdapter(t *testing.T, objects ...runtime.Object) (*KubernetesAdapter, *fake.Clientset) {
	t.Helper()
	client := fake.NewSimpleClientset(objects...)
	g, err := guard.New([]string{"dev-cluster"}, "dev-cluster")
	require.NoError(t, err)
	a, err := NewKubernetesAdapterWithClients(g, "dev-cluster", client, nil)
	require.NoError(t, err)
	return a, client
}

func testPod(name, namespace string, restarts int32, labels map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels},
		Spec: corev1.PodSpec{
			NodeName:   "node-1",
			Containers: []corev1.Container{{Name: "app"}},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{{
				Name:         "app",
				Ready:        true,
				RestartCount: restarts,
				State:        corev1.ContainerState{Running: &corev1.ContainerStateRunning{}},
			}},
		},
	}
}

func TestKubernetesAdapter_TopPodsSkipsContainerlessMetrics(t *testing.T) {
	// The generated fake serves PodMetrics under the resource name "pods",
	// but NewSimpleClientset's tracker would guess "podmetricses" from the
	// kind, so seed the tracker under the explicit GVR instead.
	metrics := metricsfake.NewSimpleClientset()
	podMetricsGVR := metricsv1beta1.SchemeGroupVersion.WithResource("pods")
	require.NoError(t, metrics.Tracker().Create(podMetricsGVR,
		&metricsv1beta1.PodMetrics{
			ObjectMeta: metav1.ObjectMeta{Name: "api-1", Namespace: "prod"},
			Containers: []metricsv1beta1.ContainerMetrics{{
				Name: "app",
				Usage: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("250m"),
					corev1.ResourceMemory: resource.MustParse("128Mi"),
				},
			}},
		}, "prod"))
	// A pod mid-startup reports no container metrics yet.
	require.NoError(t, metrics.Tracker().Create(podMetricsGVR,
		&metricsv1beta1.PodMetrics{
			ObjectMeta: metav1.ObjectMeta{Name: "api-starting", Namespace: "prod"},
		}, "prod"))
	g, err := guard.New([]string{"dev-cluster"}, "dev-cluster")
	require.NoError(t, err)
	a, err := NewKubernetesAdapterWithClients(g, "dev-cluster", fake.NewSimpleClientset(), metrics)
	require.NoError(t, err)

	res, err := a.topPods(context.Background(), map[string]any{"namespace": "prod"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "api-1")
	assert.NotContains(t, res.Content, "api-starting")
}

func TestKubernetesAdapter_GuardRejectsForbiddenCluster(t *testing.T) {
	g, err := guard.New([]string{"dev-cluster"}, "dev-cluster")
	require.NoError(t, err)

	_, err = NewKubernetesAdapterWithClients(g, "prod-cluster", fake.NewSimpleClientset(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, guard.ErrClusterForbidden)
}

func TestKubernetesAdapter_ListPods(t *testing.T) {
	a, _ := testK8sAdapter(t,
		testPod("api-1", "prod", 3, map[string]string{"app": "api"}),
		testPod("api-2", "prod", 0, map[string]string{"app": "api"}),
		testPod("worker-1", "prod", 0, map[string]string{"app": "worker"}),
	)

	res, err := a.listPods(context.Background(), map[string]any{"namespace": "prod"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "3 pods")
	assert.Contains(t, res.Content, "api-1")
	assert.Contains(t, res.Content, "worker-1")
}

func TestKubernetesAdapter_ListPodsFiltersLabelsClientSide(t *testing.T) {
	a, _ := testK8sAdapter(t,
		testPod("api-1", "prod", 0, map[string]string{"app": "api"}),
		testPod("worker-1", "prod", 0, map[string]string{"app": "worker"}),
	)

	res, err := a.listPods(context.Background(), map[string]any{
		"namespace":      "prod",
		"label_selector": "app=api",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "api-1")
	assert.NotContains(t, res.Content, "worker-1")
}

func TestKubernetesAdapter_ListPodsCapsOutput(t *testing.T) {
	pods := make([]runtime.Object, 0, 5)
	for _, name := range []string{"p1", "p2", "p3", "p4", "p5"} {
		pods = append(pods, testPod(name, "prod", 0, nil))
	}
	a, _ := testK8sAdapter(t, pods...)

	res, err := a.listPods(context.Background(), map[string]any{
		"namespace": "prod",
		"limit":     float64(2),
	})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Contains(t, res.Content, "[TRUNCATED")
}

func TestKubernetesAdapter_GetPodNotFound(t *testing.T) {
	a, _ := testK8sAdapter(t)

	_, err := a.getPod(context.Background(), map[string]any{
		"namespace": "prod",
		"name":      "missing",
	})
	terr := AsToolError(err)
	require.NotNil(t, terr)
	assert.Equal(t, KindNotFound, terr.Kind)
	assert.False(t, terr.Retryable)
}

func TestKubernetesAdapter_GetPodShowsCrashDetail(t *testing.T) {
	pod := testPod("api-1", "prod", 7, nil)
	pod.Status.ContainerStatuses[0].Ready = false
	pod.Status.ContainerStatuses[0].State = corev1.ContainerState{
		Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff", Message: "back-off 5m"},
	}
	a, _ := testK8sAdapter(t, pod)

	res, err := a.getPod(context.Background(), map[string]any{
		"namespace": "prod",
		"name":      "api-1",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "CrashLoopBackOff")
	assert.Contains(t, res.Content, "restarts=7")
}

func TestKubernetesAdapter_DeletePod(t *testing.T) {
	a, client := testK8sAdapter(t, testPod("api-1", "prod", 0, nil))

	res, err := a.deletePod(context.Background(), map[string]any{
		"namespace": "prod",
		"name":      "api-1",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "deleted pod prod/api-1")

	_, err = client.CoreV1().Pods("prod").Get(context.Background(), "api-1", metav1.GetOptions{})
	assert.Error(t, err)
}

func TestKubernetesAdapter_ScaleDeploymentRejectsNegative(t *testing.T) {
	a, _ := testK8sAdapter(t)

	_, err := a.scaleDeployment(context.Background(), map[string]any{
		"namespace":  "prod",
		"deployment": "api",
		"replicas":   float64(-1),
	})
	terr := AsToolError(err)
	require.NotNil(t, terr)
	assert.Equal(t, KindValidation, terr.Kind)
}

func TestKubernetesAdapter_ApplyManifestRejectsNonDeployment(t *testing.T) {
	a, _ := testK8sAdapter(t)

	manifest := `
apiVersion: v1
kind: Pod
metadata:
  name: sneaky
  namespace: prod
spec:
  containers:
  - name: app
    image: busybox
`
	_, err := a.applyManifest(context.Background(), map[string]any{"manifest": manifest})
	terr := AsToolError(err)
	require.NotNil(t, terr)
	assert.Equal(t, KindValidation, terr.Kind)
	assert.Contains(t, terr.Message, "Deployment")
}

func TestKubernetesAdapter_ApplyManifestCreatesDeployment(t *testing.T) {
	a, client := testK8sAdapter(t)

	manifest := `
apiVersion: apps/v1
kind: Deployment
metadata:
  name: api
  namespace: prod
spec:
  replicas: 2
  selector:
    matchLabels:
      app: api
  template:
    metadata:
      labels:
        app: api
    spec:
      containers:
      - name: app
        image: registry.example.com/api:v2
`
	res, err := a.applyManifest(context.Background(), map[string]any{"manifest": manifest})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "applied deployment prod/api")

	dep, err := client.AppsV1().Deployments("prod").Get(context.Background(), "api", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), *dep.Spec.Replicas)
}

func TestKubernetesAdapter_DeploymentReplicas(t *testing.T) {
	replicas := int32(4)
	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: "prod"},
		Spec:       appsv1.DeploymentSpec{Replicas: &replicas},
	}
	a, _ := testK8sAdapter(t, dep)

	got, err := a.DeploymentReplicas(context.Background(), "prod", "api")
	require.NoError(t, err)
	assert.Equal(t, int32(4), got)

	_, err = a.DeploymentReplicas(context.Background(), "prod", "missing")
	terr := AsToolError(err)
	require.NotNil(t, terr)
	assert.Equal(t, KindNotFound, terr.Kind)
}

func TestKubernetesAdapter_RegisterWiresCatalog(t *testing.T) {
	a, _ := testK8sAdapter(t, testPod("api-1", "prod", 0, nil))
	c := NewCatalog(nil)
	a.Register(c)

	d, ok := c.Get("delete_pod")
	require.True(t, ok)
	assert.Equal(t, CategoryDestructive, d.Category)

	d, ok = c.Get("list_pods")
	require.True(t, ok)
	assert.Equal(t, CategoryRead, d.Category)

	res, err := c.Invoke(context.Background(), "list_pods", json.RawMessage(`{"namespace":"prod"}`))
	require.NoError(t, err)
	assert.Contains(t, res.Content, "api-1")
}
