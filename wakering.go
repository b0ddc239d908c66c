// Package wakering provides a Go library for driving BLE smart rings that
// carry a wake alarm and health sensors.
//
// # Features
//
//   - Ring discovery by address or advertised name
//   - Alarm create, modify, toggle and delete over the four-phase
//     transaction protocol, with up to five alarm slots
//   - Heart rate, blood oxygen, skin temperature and step count readings
//     decoded from the shared notification channel
//   - Vibration patterns and unbind using captured vendor payloads
//
// # Quick Start
//
// Connect to the configured ring and set an alarm:
//
//	ctx := context.Background()
//	cfg, err := wakering.LoadConfig(wakering.DefaultConfigPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ring, err := wakering.ConnectFirst(ctx, wakering.NewAdapter(), cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ring.Close()
//
//	if err := ring.Authenticate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	a := wakering.NewAlarm("Wake", 6, 30, wakering.Days("mon", "wed", "fri"), true)
//	created, err := ring.Alarms().Create(ctx, a)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Alarm set in slot", created.Slot)
//
// # Measurements
//
// Readings arrive as notifications and are decoded against the kind that
// is currently active. Measure starts the kind, waits, stops it and
// returns the latest accepted reading:
//
//	r, err := ring.Measure(ctx, wakering.HeartRate, 20*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Heart rate:", r)
//
// Every accepted reading is also delivered to OnReading callbacks.
//
// # Alarm Watcher
//
// Rings that only vibrate on command can be driven from the host.
// WatchAlarms fires the configured alarm vibration at each enabled
// alarm's time until the context is cancelled:
//
//	err := ring.WatchAlarms(ctx, func(t wakering.AlarmTrigger) {
//	    fmt.Println("Alarm:", t.Alarm)
//	})
//
// # Vendor Payloads
//
// Authentication, measurement start and stop, vibration and unbind
// commands are opaque byte strings captured from the vendor app. They are
// read from the YAML configuration as hex; operations whose payload is not
// configured fail with ErrMissingCommand or ErrNoCommand.
package wakering
