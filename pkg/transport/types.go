package transport

const (
	AlivePath   = "/alive"
	HealthzPath = "/healthz"
	InfoPath    = "/info"
	MetricsPath = "/metrics"

	DefaultPort = "8000"
)

// AliveRequest is the body of an alive call.
type AliveRequest struct {
	Counter int `json:"counter"`
}

// AliveResponse carries the fixed ack.
type AliveResponse struct {
	Result int `json:"result"`
}

// StdResponse is the envelope every RPC reply is wrapped in.
type StdResponse[T any] struct {
	Body  T       `json:"body"`
	Error *string `json:"error,omitempty"`
}

func createResponse[T any](body T, err error) StdResponse[T] {
	if err != nil {
		msg := err.Error()
		return StdResponse[T]{Body: body, Error: &msg}
	}
	return StdResponse[T]{Body: body}
}
