package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/metrics"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/store"
)

func (d *Dispatcher) onCustomerJoin(ctx context.Context, e bus.Envelope, cid model.CustomerID) error {
	err := d.store.InsertCustomer(ctx, cid, e.Coord)
	if errors.Is(err, store.ErrDuplicate) {
		d.log.Infof("customer %s refused: already on the map", cid)
		d.toCustomer(ctx, bus.CustomerRejected, cid, e.Data)
		return nil
	}
	if err != nil {
		d.toCustomer(ctx, bus.CustomerRejected, cid, e.Data)
		return err
	}
	d.log.Infof("customer %s joined at %v", cid, e.Coord)
	d.toCustomer(ctx, bus.CustomerConfirmed, cid, e.Data)
	d.broadcast(ctx)
	return nil
}

// request matches a customer with a taxi or queues it.
func (d *Dispatcher) request(ctx context.Context, cid model.CustomerID, dest model.LocationID) error {
	a, err := d.store.AssignTaxi(ctx, cid, dest)
	switch {
	case err == nil:
		d.assigned(ctx, a)
		return nil
	case errors.Is(err, store.ErrNoTaxiAvailable):
		if err := d.store.Enqueue(ctx, cid); err != nil {
			return fmt.Errorf("enqueue %s: %w", cid, err)
		}
		d.log.Infof("no taxi for %s, queued", cid)
		d.record(metrics.StageQueued, cid, nil, dest.String())
		d.toCustomer(ctx, bus.ServiceDenied, cid, bus.FlagData(true))
		return nil
	default:
		d.record(metrics.StageDenied, cid, nil, dest.String())
		d.toCustomer(ctx, bus.ServiceDenied, cid, bus.FlagData(false))
		return fmt.Errorf("assign %s: %w", cid, err)
	}
}

func (d *Dispatcher) assigned(ctx context.Context, a store.Assignment) {
	d.log.Infof("taxi %d sent to %s at %v", a.Taxi, a.Customer, a.CustomerPosition)
	d.record(metrics.StageAssigned, a.Customer, &a.Taxi, a.Destination.String())
	d.toCustomer(ctx, bus.ServiceAccepted, a.Customer, bus.TaxiData(a.Taxi))
	d.toTaxi(ctx, bus.TaxiGoTo, a.Taxi, a.CustomerPosition, nil)
}

// checkQueue gives the head of the queue another chance. A customer that
// still finds no taxi goes back to the head.
func (d *Dispatcher) checkQueue(ctx context.Context) error {
	cid, dest, ok, err := d.store.DequeueNext(ctx)
	if err != nil || !ok {
		return err
	}
	a, err := d.store.AssignTaxi(ctx, cid, dest)
	switch {
	case err == nil:
		d.assigned(ctx, a)
		d.broadcast(ctx)
		return nil
	case errors.Is(err, store.ErrNoTaxiAvailable):
		return d.store.Requeue(ctx, cid)
	default:
		d.record(metrics.StageDenied, cid, nil, dest.String())
		d.toCustomer(ctx, bus.ServiceDenied, cid, bus.FlagData(false))
		return fmt.Errorf("assign queued %s: %w", cid, err)
	}
}

func (d *Dispatcher) onNewTaxi(ctx context.Context, id model.TaxiID) error {
	if err := d.store.RefreshTaxi(ctx, id, d.now()); err != nil {
		return err
	}
	d.log.Infof("taxi %d joined", id)
	d.broadcast(ctx)
	return d.checkQueue(ctx)
}

func (d *Dispatcher) onReconnect(ctx context.Context, id model.TaxiID) error {
	if err := d.store.RefreshTaxi(ctx, id, d.now()); err != nil {
		return err
	}
	pos, err := d.store.TaxiPosition(ctx, id)
	if err != nil {
		return err
	}
	d.log.Infof("taxi %d reconnected at %v", id, pos)
	d.toTaxi(ctx, bus.TaxiChangePosition, id, pos, nil)
	st, err := d.store.TaxiStatus(ctx, id)
	if err != nil {
		return err
	}
	if st.Customer != nil {
		// The store handed the dropped ride back; the customer keeps its taxi.
		d.log.Infof("taxi %d resumes its ride with %s", id, *st.Customer)
		d.toCustomer(ctx, bus.TaxiResumed, *st.Customer, bus.TaxiData(id))
	}
	err = d.refresh(ctx, id)
	d.broadcast(ctx)
	return err
}

func (d *Dispatcher) onArrival(ctx context.Context, id model.TaxiID, at grid.Coordinate) error {
	if err := d.store.MoveTaxi(ctx, id, at); err != nil {
		return err
	}
	err := d.refresh(ctx, id)
	d.broadcast(ctx)
	return err
}

// refresh issues the taxi's next instruction from its authoritative status.
func (d *Dispatcher) refresh(ctx context.Context, id model.TaxiID) error {
	st, err := d.store.TaxiStatus(ctx, id)
	if err != nil {
		return err
	}
	switch st.Phase {
	case store.PhaseIdle:
		if err := d.store.SetAvailable(ctx, id, true); err != nil {
			return err
		}
		return d.checkQueue(ctx)
	case store.PhaseManual:
		if !st.Arrived() {
			d.toTaxi(ctx, bus.TaxiGoTo, id, st.Target, nil)
			return nil
		}
		d.log.Infof("taxi %d reached its manual objective %v", id, st.Target)
		if err := d.store.ClearObjective(ctx, id); err != nil {
			return err
		}
		return d.refresh(ctx, id)
	case store.PhaseToCustomer:
		if !st.Arrived() {
			d.toTaxi(ctx, bus.TaxiGoTo, id, st.Target, nil)
			return nil
		}
		ride, err := d.store.PickUp(ctx, id)
		if err != nil {
			return err
		}
		d.log.Infof("taxi %d picked up %s for %s", id, ride.Customer, ride.Destination)
		d.record(metrics.StagePickedUp, ride.Customer, &id, ride.Destination.String())
		d.toCustomer(ctx, bus.PickedUp, ride.Customer, bus.TaxiData(id))
		d.toTaxi(ctx, bus.TaxiStartService, id, ride.Target, bus.CustomerData(ride.Customer))
		return nil
	case store.PhaseToDestination:
		if !st.Arrived() {
			d.toTaxi(ctx, bus.TaxiGoTo, id, st.Target, nil)
			return nil
		}
		ride, err := d.store.CompleteService(ctx, id)
		if err != nil {
			return err
		}
		d.log.Infof("taxi %d dropped %s at %s", id, ride.Customer, ride.Destination)
		d.record(metrics.StageCompleted, ride.Customer, &id, ride.Destination.String())
		d.toCustomer(ctx, bus.ServiceCompleted, ride.Customer, nil)
		d.toTaxi(ctx, bus.TaxiServiceCompleted, id, ride.Target, nil)
		return d.refresh(ctx, id)
	default:
		return fmt.Errorf("taxi %d in unknown phase %d", id, st.Phase)
	}
}

func (d *Dispatcher) onCanMove(ctx context.Context, id model.TaxiID, canMove bool) error {
	cust, err := d.store.SetCanMove(ctx, id, canMove)
	if err != nil {
		return err
	}
	if cust != nil {
		subject := bus.TaxiStopped
		if canMove {
			subject = bus.TaxiResumed
		}
		d.toCustomer(ctx, subject, *cust, bus.TaxiData(id))
	}
	d.broadcast(ctx)
	if !canMove {
		return nil
	}
	st, err := d.store.TaxiStatus(ctx, id)
	if err != nil || st.Phase != store.PhaseIdle {
		return err
	}
	return d.checkQueue(ctx)
}

func (d *Dispatcher) onTaxiGone(ctx context.Context, id model.TaxiID, why bus.Subject) error {
	orphan, err := d.store.DisconnectTaxi(ctx, id)
	if isNotFound(err) {
		d.log.Debugf("%s for unknown taxi %d", why, id)
		return nil
	}
	if err != nil {
		return err
	}
	d.log.Infof("taxi %d left (%s)", id, why)
	if orphan != nil {
		d.log.Infof("customer %s back at the head of the queue", orphan.Customer)
		d.record(metrics.StageOrphaned, orphan.Customer, &id, "")
		d.toCustomer(ctx, bus.TaxiDisconnected, orphan.Customer, bus.TaxiCoordData(id, orphan.Position))
	}
	d.broadcast(ctx)
	return d.checkQueue(ctx)
}

func (d *Dispatcher) onCustomerGone(ctx context.Context, cid model.CustomerID) error {
	freed, err := d.store.DisconnectCustomer(ctx, cid)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	d.log.Infof("customer %s left", cid)
	if freed != nil {
		d.toTaxi(ctx, bus.TaxiServiceCompleted, *freed, grid.Coordinate{}, nil)
		d.toTaxi(ctx, bus.TaxiStop, *freed, grid.Coordinate{}, nil)
		if err := d.refresh(ctx, *freed); err != nil {
			return err
		}
	}
	d.broadcast(ctx)
	return nil
}

func (d *Dispatcher) onOrderGoTo(ctx context.Context, id model.TaxiID, target grid.Coordinate) error {
	cust, err := d.store.ManualGoTo(ctx, id, target)
	if err != nil {
		return err
	}
	d.log.Infof("operator sends taxi %d to %v", id, target)
	d.toTaxi(ctx, bus.TaxiGoTo, id, target, nil)
	if cust != nil {
		d.toCustomer(ctx, bus.TaxiResumed, *cust, bus.TaxiData(id))
	}
	d.broadcast(ctx)
	return nil
}

func (d *Dispatcher) onOrderStop(ctx context.Context, id model.TaxiID) error {
	cust, err := d.store.SetMoving(ctx, id, false)
	if err != nil {
		return err
	}
	d.log.Infof("operator stops taxi %d", id)
	d.toTaxi(ctx, bus.TaxiStop, id, grid.Coordinate{}, nil)
	if cust != nil {
		d.toCustomer(ctx, bus.TaxiStopped, *cust, bus.TaxiData(id))
	}
	d.broadcast(ctx)
	return nil
}

func (d *Dispatcher) onOrderContinue(ctx context.Context, id model.TaxiID) error {
	cust, err := d.store.SetMoving(ctx, id, true)
	if err != nil {
		return err
	}
	d.log.Infof("operator resumes taxi %d", id)
	d.toTaxi(ctx, bus.TaxiContinue, id, grid.Coordinate{}, nil)
	if cust != nil {
		d.toCustomer(ctx, bus.TaxiResumed, *cust, bus.TaxiData(id))
	}
	d.broadcast(ctx)
	st, err := d.store.TaxiStatus(ctx, id)
	if err != nil || st.Phase != store.PhaseIdle {
		return err
	}
	if err := d.store.SetAvailable(ctx, id, true); err != nil {
		return err
	}
	return d.checkQueue(ctx)
}
