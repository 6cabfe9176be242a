// Package k8s implements the scheduler backend for kubernetes clusters.
// Workers are pods running the Thorium agent; node capacity comes from
// the apiserver's allocatable figures minus everything already running.
package k8s

import (
	"github.com/pkg/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// newClientset connects to a cluster. A kubeconfig context selects an
// external cluster; with no context we assume we are running inside the
// cluster we schedule on.
func newClientset(kubeContext string) (kubernetes.Interface, error) {
	var conf *rest.Config
	var err error
	if kubeContext == "" {
		conf, err = rest.InClusterConfig()
		if err != nil {
			return nil, errors.Wrap(err, "loading in-cluster kube config")
		}
	} else {
		loader := clientcmd.NewDefaultClientConfigLoadingRules()
		overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
		conf, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loader, overrides).ClientConfig()
		if err != nil {
			return nil, errors.Wrapf(err, "loading kube context %s", kubeContext)
		}
	}
	clientset, err := kubernetes.NewForConfig(conf)
	if err != nil {
		return nil, errors.Wrap(err, "building kube clientset")
	}
	return clientset, nil
}
