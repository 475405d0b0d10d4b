package mlproject

import (
	"os"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/imishinist/mlproject/internal/config"
)

const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda:0"
)

// nvidiaDeviceNode is probed to detect an accelerator.
var nvidiaDeviceNode = "/dev/nvidia0"

// Device is the compute device a model runs on.
type Device struct {
	// Name is "cpu", "cuda:0", or whatever the "device" key says.
	Name string
	// CPU brand and the SIMD features found on it.
	CPU      string
	Features []string
}

func (d Device) String() string { return d.Name }

// IsCPU reports whether the device is the host CPU.
func (d Device) IsCPU() bool { return d.Name == DeviceCPU }

var simdFeatures = []struct {
	name string
	id   cpuid.FeatureID
}{
	{"AVX", cpuid.AVX},
	{"AVX2", cpuid.AVX2},
	{"FMA3", cpuid.FMA3},
	{"AVX512F", cpuid.AVX512F},
	{"ASIMD", cpuid.ASIMD},
}

// ResolveDevice returns the device named by the "device" key, or, if it is not set, "cuda:0"
// when an NVIDIA device is present and "cpu" otherwise.
func ResolveDevice(params config.Params) (Device, error) {
	name, found, err := params.String(KeyDevice)
	if err != nil {
		return Device{}, errors.WithMessage(err, "invalid configuration")
	}
	if !found || name == "" {
		name = detectDevice()
	}
	d := Device{Name: strings.ToLower(name), CPU: cpuid.CPU.BrandName}
	for _, f := range simdFeatures {
		if cpuid.CPU.Supports(f.id) {
			d.Features = append(d.Features, f.name)
		}
	}
	klog.V(1).Infof("device %s; CPU %q, %d cores, features %v", d.Name, d.CPU, cpuid.CPU.PhysicalCores, d.Features)
	return d, nil
}

func detectDevice() string {
	if _, err := os.Stat(nvidiaDeviceNode); err == nil {
		return DeviceCUDA
	}
	return DeviceCPU
}
