package types

// BatteryInfo is the battery summary served by the daemon.
type BatteryInfo struct {
	Percent float64 `json:"percent"`
	State   string  `json:"state"`
	// ChargeRate is in mW, negative while discharging.
	ChargeRate float64 `json:"charge_rate"`
}
