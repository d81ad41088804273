package vendorapi

// Vendor device states as reported by the device list.
const (
	DeviceStateRegistered   = "registered"
	DeviceStateDeregistered = "deregistered"
)

// DevicePage is one page of GET /v3/devices.
type DevicePage struct {
	Object     string        `json:"object"`
	Data       []DeviceEntry `json:"data"`
	HasMore    bool          `json:"has_more"`
	After      string        `json:"after"`
	Limit      int           `json:"limit"`
	TotalCount int           `json:"total_count"`
}

// DeviceEntry is one device in a device list page.
type DeviceEntry struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	EndpointName string `json:"endpoint_name"`
	State        string `json:"state"`
	DeviceType   string `json:"endpoint_type"`
}

// Resource is one resource exposed by a device.
type Resource struct {
	URI        string `json:"uri"`
	Type       string `json:"rt"`
	Observable bool   `json:"obs"`
}

// DeviceRequest is the body of POST /v2/device-requests/{id}.
type DeviceRequest struct {
	Method     string `json:"method"`
	URI        string `json:"uri"`
	PayloadB64 string `json:"payload-b64,omitempty"`
}

// AsyncIDResponse is the JSON form of a subscription or device request
// reply that will complete later on the stream.
type AsyncIDResponse struct {
	AsyncResponseID string `json:"async-response-id"`
}
