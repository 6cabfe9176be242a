package k8s

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/mjcarson/thorium/models"
	"github.com/mjcarson/thorium/scheduler"
)

// How long a pod may sit in a creating state before we give up on it.
const stuckCreatingTimeout = 5 * time.Minute

const (
	// Worker images bake the agent binary at this path.
	agentBinary = "/opt/thorium/thorium-agent"
	// Secret with the agent's API config, mounted into every worker pod.
	agentKeysSecret = "thorium-agent-keys"
	agentKeysMount  = "/opt/thorium-keys"
)

// Spawn creates one pod per worker, oldest spawn group first. The pod is
// pinned to the node the scheduler picked; kube-scheduler is not asked
// to make a second placement decision.
func (b *Backend) Spawn(ctx context.Context, cache *scheduler.Cache, groups []scheduler.SpawnGroup) map[string]error {
	failed := make(map[string]error)
	for _, group := range groups {
		for _, sp := range group.Spawns {
			img, ok := cache.GetImage(sp.Req.Group, sp.Req.Stage)
			if !ok {
				failed[sp.Name] = fmt.Errorf("unknown image %s/%s", sp.Req.Group, sp.Req.Stage)
				continue
			}
			pod := b.buildPod(sp, img)
			_, err := b.client.CoreV1().Pods(namespace).Create(ctx, pod, metav1.CreateOptions{})
			if err != nil && !apierrors.IsAlreadyExists(err) {
				failed[sp.Name] = err
				continue
			}
			log.WithFields(log.Fields{"worker": sp.Name, "node": sp.Node}).Info("spawned worker pod")
		}
	}
	return failed
}

// buildPod runs the agent, not the stage's tool. The agent claims jobs
// under the identity flags and execs the tool itself, so a pod that ran
// the tool directly would never pick up the queued job.
func (b *Backend) buildPod(sp *scheduler.Spawned, img *models.Image) *corev1.Pod {
	requests := toResourceList(sp.Resources)
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      sp.Name,
			Namespace: namespace,
			Labels: map[string]string{
				managedLabel: "true",
				userLabel:    sp.Req.User,
				groupLabel:   sp.Req.Group,
			},
		},
		Spec: corev1.PodSpec{
			NodeName:      sp.Node,
			RestartPolicy: corev1.RestartPolicyNever,
			Volumes: []corev1.Volume{{
				Name: "keys",
				VolumeSource: corev1.VolumeSource{
					Secret: &corev1.SecretVolumeSource{SecretName: agentKeysSecret},
				},
			}},
			Containers: []corev1.Container{{
				Name:            "worker",
				Image:           img.ContainerImage,
				ImagePullPolicy: corev1.PullAlways,
				Command:         []string{agentBinary},
				Args: []string{
					"--config", agentKeysMount + "/agent.json",
					"--cluster", b.cluster,
					"--node", sp.Node,
					"--name", sp.Name,
					"--user", sp.Req.User,
					"--group", sp.Req.Group,
					"--pipeline", sp.Req.Pipeline,
					"--stage", sp.Req.Stage,
					"--pool", sp.Pool.String(),
				},
				VolumeMounts: []corev1.VolumeMount{{
					Name:      "keys",
					MountPath: agentKeysMount,
					ReadOnly:  true,
				}},
				Resources: corev1.ResourceRequirements{
					Requests: requests,
					Limits:   requests,
				},
			}},
		},
	}
}

// Delete removes worker pods. A pod that is already gone is a
// successful delete, not an error.
func (b *Backend) Delete(ctx context.Context, workers []*scheduler.Spawned) []scheduler.WorkerDeletion {
	out := make([]scheduler.WorkerDeletion, 0, len(workers))
	for _, sp := range workers {
		err := b.client.CoreV1().Pods(namespace).Delete(ctx, sp.Name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			out = append(out, scheduler.WorkerDeletion{Worker: sp, Err: err})
			continue
		}
		delete(b.creating, sp.Name)
		out = append(out, scheduler.WorkerDeletion{Worker: sp})
	}
	return out
}

// ClearTerminal sweeps our pods for ones that finished, crashed, or
// wedged. OOM kills and pods stuck creating also error out the job on
// the platform so it is not silently retried forever.
func (b *Backend) ClearTerminal(ctx context.Context, active map[string]*scheduler.Spawned) (scheduler.Terminal, error) {
	terminal := scheduler.Terminal{ErrorOut: make(map[string]string)}
	pods, err := b.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: managedLabel + "=true",
	})
	if err != nil {
		return terminal, err
	}
	now := time.Now()
	seen := make(map[string]bool, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		seen[pod.Name] = true
		sp, ok := active[pod.Name]
		if !ok {
			continue
		}
		switch pod.Status.Phase {
		case corev1.PodSucceeded:
			terminal.Done = append(terminal.Done, sp)
			delete(b.creating, pod.Name)
		case corev1.PodFailed:
			terminal.Failed = append(terminal.Failed, sp)
			delete(b.creating, pod.Name)
			if oomKilled(pod) {
				terminal.ErrorOut[pod.Name] = "worker was OOM killed"
			}
		case corev1.PodPending:
			if !podCreating(pod) {
				continue
			}
			since, seen := b.creating[pod.Name]
			if !seen {
				b.creating[pod.Name] = now
				continue
			}
			if now.Sub(since) > stuckCreatingTimeout {
				terminal.Failed = append(terminal.Failed, sp)
				terminal.ErrorOut[pod.Name] = fmt.Sprintf("worker stuck creating for %s", now.Sub(since).Round(time.Second))
				delete(b.creating, pod.Name)
			}
		default:
			delete(b.creating, pod.Name)
		}
	}
	// A tracked worker with no pod at all was removed out-of-band.
	// Report it done so its resources and its requisition's demand
	// come back instead of leaking until a restart.
	for name, sp := range active {
		if seen[name] {
			continue
		}
		log.WithField("worker", name).Warn("worker pod vanished, reclaiming")
		terminal.Done = append(terminal.Done, sp)
		delete(b.creating, name)
	}
	return terminal, nil
}

func oomKilled(pod *corev1.Pod) bool {
	for _, status := range pod.Status.ContainerStatuses {
		if status.State.Terminated != nil && status.State.Terminated.Reason == "OOMKilled" {
			return true
		}
		if status.LastTerminationState.Terminated != nil &&
			status.LastTerminationState.Terminated.Reason == "OOMKilled" {
			return true
		}
	}
	return false
}

// podCreating reports whether a pending pod is waiting on its container
// or its image rather than on scheduling.
func podCreating(pod *corev1.Pod) bool {
	for _, status := range pod.Status.ContainerStatuses {
		if status.State.Waiting == nil {
			continue
		}
		switch status.State.Waiting.Reason {
		case "ContainerCreating", "ErrImagePull", "ImagePullBackOff", "CreateContainerError":
			return true
		}
	}
	return false
}

func toResourceList(r models.Resources) corev1.ResourceList {
	list := corev1.ResourceList{
		corev1.ResourceCPU:              *resource.NewMilliQuantity(r.CPU, resource.DecimalSI),
		corev1.ResourceMemory:           *resource.NewQuantity(r.Memory*mib, resource.BinarySI),
		corev1.ResourceEphemeralStorage: *resource.NewQuantity(r.Storage*mib, resource.BinarySI),
	}
	if r.NvidiaGPU > 0 {
		list[nvidiaGPUResource] = *resource.NewQuantity(r.NvidiaGPU, resource.DecimalSI)
	}
	if r.AmdGPU > 0 {
		list[amdGPUResource] = *resource.NewQuantity(r.AmdGPU, resource.DecimalSI)
	}
	return list
}
