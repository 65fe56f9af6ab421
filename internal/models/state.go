package models

// LifecycleState is the derived state of a bot. Only EXPIRED is stored.
type LifecycleState string

const (
	StateStopped   LifecycleState = "STOPPED"
	StateDeploying LifecycleState = "DEPLOYING"
	StateRunning   LifecycleState = "RUNNING"
	StateStopping  LifecycleState = "STOPPING"
	StateExpired   LifecycleState = "EXPIRED"
)
