// Package flowsheet builds small demonstration models: a single valve and a
// heater/compressor loop, each a square equality system the built-in solver
// can close. They stand in for the external model-construction step that
// would normally hand the server a fully built flowsheet.
package flowsheet

import (
	"fmt"

	"flowsheetmcp/model"
)

const (
	// cp of the working fluid, J/(mol K), treated as constant
	heatCapacity = 75.3
	// isentropic exponent shortcut (kappa-1)/kappa for the compressor
	isentropicExp = 0.2857
)

// Valve builds a throttle valve flowsheet: one free variable (flow) pinned by
// the valve equation. Degrees of freedom: 0.
//
//	flow = cv * opening * sqrt(p_in - p_out)
func Valve() *model.Model {
	m := model.New()
	fs := m.AddBlock("fs")
	valve := fs.AddBlock("valve")

	flow := valve.AddVar("flow", 1)
	pIn := valve.AddVar("inlet_pressure", 201325)
	pOut := valve.AddVar("outlet_pressure", 101325)
	opening := valve.AddVar("opening", 0.5)
	cv := valve.AddVar("cv", 0.05)

	lo := 0.0
	flow.SetBounds(&lo, nil)

	valve.AddEq("flow_eq",
		model.Sub(flow.Expr(), model.Mul(cv.Expr(), opening.Expr(), model.Sqrt(model.Sub(pIn.Expr(), pOut.Expr())))),
		0)

	pIn.Fix(201325)
	pOut.Fix(101325)
	opening.Fix(0.5)
	cv.Fix(0.05)

	valve.SetReport(func() (string, error) {
		return fmt.Sprintf("Valve: opening=%.2f flow=%.4f mol/s dP=%.0f Pa",
			opening.Value(), flow.Value(), pIn.Value()-pOut.Value()), nil
	})
	return m
}

// BrokenValve over-specifies the valve by fixing the flow as well, producing
// the structurally singular model the diagnostics tools are meant to catch.
func BrokenValve() *model.Model {
	m := Valve()
	comp, _ := m.Resolve("fs.valve.flow")
	comp.(*model.Var).Fix(12)
	return m
}

// HeaterLoop builds a heater plus compressor pair sharing one stream:
//
//	duty  = flow * cp * (t_out - t_in)         heater energy balance
//	p_out = ratio * p_in                       compressor pressure relation
//	t_comp = t_out * ratio^0.2857              isentropic outlet temperature
//	work  = flow * cp * (t_comp - t_out)       compressor energy balance
//
// Fixed inputs: flow, t_in, p_in, ratio, duty. Free: t_out, p_out, t_comp,
// work. Degrees of freedom: 0.
func HeaterLoop() *model.Model {
	m := model.New()
	fs := m.AddBlock("fs")

	heater := fs.AddBlock("heater")
	flow := heater.AddVar("flow", 5)
	tIn := heater.AddVar("inlet_temperature", 300)
	tOut := heater.AddVar("outlet_temperature", 320)
	duty := heater.AddVar("duty", 10000)

	heater.AddEq("energy_balance",
		model.Sub(duty.Expr(), model.Mul(flow.Expr(), model.Const(heatCapacity), model.Sub(tOut.Expr(), tIn.Expr()))),
		0)

	comp := fs.AddBlock("compressor")
	pIn := comp.AddVar("inlet_pressure", 101325)
	pOut := comp.AddVar("outlet_pressure", 202650)
	ratio := comp.AddVar("pressure_ratio", 2)
	tComp := comp.AddVar("outlet_temperature", 390)
	work := comp.AddVar("work", 30000)

	comp.AddEq("pressure_relation",
		model.Sub(pOut.Expr(), model.Mul(ratio.Expr(), pIn.Expr())),
		0)
	comp.AddEq("isentropic_temperature",
		model.Sub(tComp.Expr(), model.Mul(tOut.Expr(), model.Pow(ratio.Expr(), isentropicExp))),
		0)
	comp.AddEq("energy_balance",
		model.Sub(work.Expr(), model.Mul(flow.Expr(), model.Const(heatCapacity), model.Sub(tComp.Expr(), tOut.Expr()))),
		0)

	flow.Fix(5)
	tIn.Fix(300)
	pIn.Fix(101325)
	ratio.Fix(2)
	duty.Fix(10000)

	loT := 273.15
	hiT := 647.0
	tOut.SetBounds(&loT, &hiT)
	loR := 1.2
	hiR := 4.0
	ratio.SetBounds(&loR, &hiR)
	loD := 0.0
	hiD := 50000.0
	duty.SetBounds(&loD, &hiD)

	heater.SetReport(func() (string, error) {
		return fmt.Sprintf("Heater: duty=%.1f W, T %.1f K -> %.1f K at %.1f mol/s",
			duty.Value(), tIn.Value(), tOut.Value(), flow.Value()), nil
	})
	comp.SetReport(func() (string, error) {
		return fmt.Sprintf("Compressor: ratio=%.2f work=%.1f W outlet T=%.1f K",
			ratio.Value(), work.Value(), tComp.Value()), nil
	})
	return m
}

// Builders maps the model names the binary accepts to their constructors.
var Builders = map[string]func() *model.Model{
	"valve":        Valve,
	"valve-broken": BrokenValve,
	"heater-loop":  HeaterLoop,
}
