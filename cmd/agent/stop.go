package main

import "fmt"

func (c *StopActivateCmd) Run(app *App) error {
	reason := c.Reason
	if reason == "" {
		reason = "manual activation via agent stop activate"
	}
	app.EmergencyStop.Trigger(reason)
	fmt.Fprintf(app.Stdout, "%s emergency stop engaged: %s\n", redStyle.Render("●"), reason)
	return nil
}

func (c *StopStatusCmd) Run(app *App) error {
	if app.EmergencyStop.IsSet() {
		fmt.Fprintf(app.Stdout, "%s stopped: %s\n", redStyle.Render("●"), app.EmergencyStop.Reason())
		return nil
	}
	fmt.Fprintf(app.Stdout, "%s running\n", greenStyle.Render("●"))
	return nil
}

func (c *StopResetCmd) Run(app *App) error {
	app.EmergencyStop.Reset()
	fmt.Fprintf(app.Stdout, "%s emergency stop cleared\n", greenStyle.Render("●"))
	return nil
}
