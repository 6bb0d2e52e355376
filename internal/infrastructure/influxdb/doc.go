// Package influxdb records gateway telemetry in InfluxDB.
//
// Three kinds of samples flow through it, all originating in the
// bridge: RSSI per scan observation, button press/release transitions,
// and acknowledged LED state changes. That is the whole surface; there
// is deliberately no generic point writer.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteRSSISample("aa:bb:cc:dd:ee:ff", "scanner-hallway", -58)
//
// Writes are non-blocking and batched (batch_size and flush_interval in
// config.yaml); a scan storm costs memory, not latency. Batch write
// errors arrive on the SetOnError callback rather than at the call
// site, and writers silently drop samples when the client is closed or
// was never enabled, so telemetry can never stall ingestion. Safe for
// concurrent use.
package influxdb
