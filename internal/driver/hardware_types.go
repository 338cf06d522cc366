package driver

import (
	"github.com/chameleoncloud/doni/internal/schema"
	"github.com/chameleoncloud/doni/internal/worker"
)

// hardwareType is a static HardwareType definition.
type hardwareType struct {
	name            string
	enabledWorkers  []string
	defaultFields   []worker.Field
	workerOverrides map[string]any
}

func (h *hardwareType) Name() string                    { return h.name }
func (h *hardwareType) EnabledWorkers() []string        { return h.enabledWorkers }
func (h *hardwareType) DefaultFields() []worker.Field   { return h.defaultFields }
func (h *hardwareType) WorkerOverrides() map[string]any { return h.workerOverrides }

// Supported CPU architectures.
var cpuArchSchema = schema.Enum("x86_64", "aarch64")

// Device types currently correspond to BalenaOS device types, because that is
// a nice taxonomy.
// https://www.balena.io/docs/reference/base-images/devicetypes/
var supportedDeviceTypes = []any{"jetson-nano", "raspberrypi3-64", "raspberrypi4-64"}

var supportedChannelTypes = []any{"wireguard"}

// interfacesSchema describes the NICs installed on a provisionable node.
// There is no mac_address format in jsonschema, so it stays a plain string.
var interfacesSchema = schema.ArrayMin(schema.Fragment{
	"type": "object",
	"properties": map[string]schema.Fragment{
		"name":           schema.String(),
		"enabled":        schema.Boolean(),
		"mac_address":    schema.String(),
		"vendor":         schema.String(),
		"model":          schema.String(),
		"switch_id":      schema.String(),
		"switch_port_id": schema.String(),
		"switch_info":    schema.String(),
		"pxe_enabled":    schema.Boolean(),
	},
	"required":             []any{"name", "mac_address"},
	"additionalProperties": false,
}, 1)

var channelSchema = schema.Fragment{
	"type": "object",
	"properties": map[string]schema.Fragment{
		"channel_type": schema.Fragment{"enum": supportedChannelTypes},
		"public_key":   schema.String(),
	},
	"required":             []any{"channel_type"},
	"additionalProperties": false,
}

var channelsSchema = schema.Fragment{
	"type": "object",
	"properties": map[string]schema.Fragment{
		"user": channelSchema,
		"mgmt": channelSchema,
	},
	"required":             []any{"user"},
	"additionalProperties": false,
}

// bmInterfacesSchema describes bare metal NICs attached to a worker node.
var bmInterfacesSchema = schema.Array(schema.Fragment{
	"type": "object",
	"properties": map[string]schema.Fragment{
		"name":     schema.String(),
		"mac_addr": schema.String(),
		"local_link_information": schema.ArrayMin(schema.Fragment{
			"type": "object",
			"properties": map[string]schema.Fragment{
				"switch_id":   schema.String(),
				"port_id":     schema.String(),
				"switch_info": schema.String(),
			},
		}, 1),
	},
	"required":             []any{"name", "local_link_information"},
	"additionalProperties": false,
})

// deviceCommonFields apply to every edge device hardware type.
var deviceCommonFields = []worker.Field{
	{
		Name:        "device_type",
		Schema:      schema.Fragment{"enum": supportedDeviceTypes},
		Required:    true,
		Description: "The type of device; this must be an explicitly supported device type.",
	},
	{
		Name:     "contact_email",
		Schema:   schema.Email(),
		Required: true,
		Private:  true,
		Description: "A contact email to use for any communication about the device. " +
			"In some cases secure messages containing enrollment credentials may be " +
			"sent here, so ensure it is an active mailbox.",
	},
	{
		Name:     "channels",
		Schema:   channelsSchema,
		Required: true,
		Private:  true,
		Description: "A set of communications channels this device will use. All devices " +
			"should at minimum provide a 'user' channel, through which user workload " +
			"traffic will pass. Often a 'mgmt' channel is also needed to configure " +
			"the device for the user's workload.",
	},
}

// NewFakeHardware is a fake hardware type, useful for development and testing.
func NewFakeHardware() HardwareType {
	return &hardwareType{
		name:           "fake-hardware",
		enabledWorkers: []string{"fake-worker"},
		defaultFields: []worker.Field{
			{Name: "default_field", Schema: schema.String()},
			{Name: "default_required_field", Schema: schema.String(), Required: true},
		},
	}
}

// NewBaremetal is a bare metal node, provisionable via e.g. Ironic.
func NewBaremetal() HardwareType {
	return &hardwareType{
		name:           "baremetal",
		enabledWorkers: []string{"blazar.physical_host", "ironic"},
		defaultFields: []worker.Field{
			{
				Name:        "management_address",
				Schema:      schema.HostOrIP(),
				Required:    true,
				Private:     true,
				Description: "The out-of-band address, e.g. IPMI.",
			},
			{
				Name:        "interfaces",
				Schema:      interfacesSchema,
				Required:    true,
				Description: "A list of network interfaces installed on the node.",
			},
			{
				Name:        "cpu_arch",
				Schema:      cpuArchSchema,
				Required:    true,
				Default:     "x86_64",
				Description: "The CPU architecture.",
			},
		},
	}
}

// NewBalenaDevice is an edge device managed through Balena that joins a
// Kubernetes cluster over tunneled channels.
func NewBalenaDevice() HardwareType {
	return &hardwareType{
		name:            "device.balena",
		enabledWorkers:  []string{"balena", "blazar.device", "k8s", "tunelo"},
		defaultFields:   deviceCommonFields,
		workerOverrides: map[string]any{"blazar_device_driver": "k8s"},
	}
}

// NewWorkerNode is a Kubernetes worker node.
func NewWorkerNode() HardwareType {
	return &hardwareType{
		name:           "workernode",
		enabledWorkers: []string{"blazar.device", "k8s"},
		defaultFields: []worker.Field{
			{
				Name:        "machine_name",
				Schema:      schema.Enum("k8s-worker"),
				Required:    true,
				Default:     "k8s-worker",
				Description: "The type of machine; this must be an explicitly supported machine name.",
			},
			{
				Name:        "bm_interfaces",
				Schema:      bmInterfacesSchema,
				Required:    true,
				Description: "A list of network interfaces installed on the node.",
			},
			{
				Name:        "cpu_arch",
				Schema:      cpuArchSchema,
				Required:    true,
				Default:     "x86_64",
				Description: "The CPU architecture.",
			},
		},
	}
}

// NewLocalDevice is a locally attached device, such as an SDR host.
func NewLocalDevice() HardwareType {
	return &hardwareType{
		name:           "device.local",
		enabledWorkers: []string{"blazar.device", "k8s"},
		defaultFields: []worker.Field{
			{
				Name:        "machine_name",
				Schema:      schema.Enum("sdr-host"),
				Required:    true,
				Description: "The type of machine; this must be an explicitly supported machine name.",
			},
			{
				Name:     "contact_email",
				Schema:   schema.Email(),
				Required: true,
				Private:  true,
				Description: "A contact email to use for any communication about the device. " +
					"In some cases secure messages containing enrollment credentials may be " +
					"sent here, so ensure it is an active mailbox.",
			},
			{
				Name:        "management_address",
				Schema:      schema.HostOrIP(),
				Required:    true,
				Private:     true,
				Description: "The out-of-band address.",
			},
			{
				Name:        "interfaces",
				Schema:      interfacesSchema,
				Required:    true,
				Description: "A list of network interfaces installed on the node.",
			},
			{
				Name:        "cpu_arch",
				Schema:      cpuArchSchema,
				Required:    true,
				Default:     "x86_64",
				Description: "The CPU architecture.",
			},
			{
				Name:   "device_profiles",
				Schema: schema.Array(schema.String()),
				Description: "A set of device profiles (representing a set of Linux resources " +
					"that make it possible to access an attached peripheral, such as a USB " +
					"or GPU device) currently supported on this device.",
			},
		},
	}
}
