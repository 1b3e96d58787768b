package transport

// Topic is a bus subject. Tokens are dot-separated; "*" is the bus's
// single-token wildcard and is only meaningful on the subscribe side.
type Topic string

// The full topic set of the fabric. Publish* tokens are concrete subjects a
// gateway (or orbit) emits on; Subscribe* tokens are the wildcard subjects
// consumers listen on.
const (
	// Latency snapshots: gateway → orbit, orbit → every gateway.
	PublishGatewayLatencyStats   Topic = "orbit.gateway.latency.stats"
	SubscribeGatewayLatencyStats Topic = "orbit.*.latency.stats"

	// Heartbeats: gateway → orbit, orbit → every gateway.
	PublishGatewayHeartbeat   Topic = "orbit.gateway.heartbeat"
	SubscribeGatewayHeartbeat Topic = "orbit.*.heartbeat"

	// Failover notifications. Reserved.
	PublishGatewayFailover   Topic = "orbit.gateway.failover"
	SubscribeGatewayFailover Topic = "orbit.*.failover"

	// Configuration pushes from orbit. Reserved.
	PublishConfigUpdate Topic = "orbit.config.update"

	// Gateway metrics export. Reserved.
	PublishGatewayMetrics Topic = "orbit.gateway.metrics"
)

func (t Topic) String() string { return string(t) }
