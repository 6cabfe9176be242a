package k8s

import (
	"context"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/mjcarson/thorium/models"
	"github.com/mjcarson/thorium/scheduler"
)

// Headroom withheld on every node so system daemons and kubelet never
// get starved by our workers.
var headroom = models.Resources{CPU: 2000, Memory: 2048, Storage: 2048}

// Cap on pods we will stack on one node.
const maxWorkersPerNode = 100

const (
	nvidiaGPUResource = "nvidia.com/gpu"
	amdGPUResource    = "amd.com/gpu"
)

const mib = 1024 * 1024

// ResourcesAvailable reads every schedulable node's allocatable figures
// and nets out the requests of everything already running on it, ours
// included. Cordoned or NotReady nodes come back as removes.
func (b *Backend) ResourcesAvailable(ctx context.Context) (scheduler.AllocatableUpdate, error) {
	update := scheduler.AllocatableUpdate{Nodes: make(map[string]models.Resources)}
	nodes, err := b.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{LabelSelector: b.nodeSelector})
	if err != nil {
		return update, errors.Wrap(err, "listing nodes")
	}
	pods, err := b.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return update, errors.Wrap(err, "listing pods")
	}

	requests := make(map[string]models.Resources)
	podCounts := make(map[string]int64)
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Spec.NodeName == "" || podDone(pod) {
			continue
		}
		req := requests[pod.Spec.NodeName]
		req.Release(podRequests(pod))
		requests[pod.Spec.NodeName] = req
		podCounts[pod.Spec.NodeName]++
	}

	for i := range nodes.Items {
		node := &nodes.Items[i]
		if !nodeSchedulable(node) {
			update.Removes = append(update.Removes, node.Name)
			continue
		}
		avail := fromResourceList(node.Status.Allocatable)
		avail.Consume(requests[node.Name])
		avail.Consume(headroom)
		slots := maxWorkersPerNode - podCounts[node.Name]
		if slots < 0 {
			slots = 0
		}
		avail.WorkerSlots = slots
		update.Nodes[node.Name] = avail
	}
	return update, nil
}

func nodeSchedulable(node *corev1.Node) bool {
	if node.Spec.Unschedulable {
		return false
	}
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func podDone(pod *corev1.Pod) bool {
	return pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed
}

// podRequests sums the resource requests of every container in a pod.
func podRequests(pod *corev1.Pod) models.Resources {
	var total models.Resources
	for _, container := range pod.Spec.Containers {
		total.Release(fromResourceList(container.Resources.Requests))
	}
	return total
}

// fromResourceList converts k8s quantities into our units: milli-cores
// for cpu, MiB for memory and ephemeral storage.
func fromResourceList(list corev1.ResourceList) models.Resources {
	out := models.Resources{}
	if q, ok := list[corev1.ResourceCPU]; ok {
		out.CPU = q.MilliValue()
	}
	if q, ok := list[corev1.ResourceMemory]; ok {
		out.Memory = q.Value() / mib
	}
	if q, ok := list[corev1.ResourceEphemeralStorage]; ok {
		out.Storage = q.Value() / mib
	}
	if q, ok := list[nvidiaGPUResource]; ok {
		out.NvidiaGPU = q.Value()
	}
	if q, ok := list[amdGPUResource]; ok {
		out.AmdGPU = q.Value()
	}
	return out
}
