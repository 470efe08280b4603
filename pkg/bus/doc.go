/*
Package bus provides the in-memory message broker the coordinator's
components communicate through.

Every message published on the broker is broadcast to every subscriber.
Components never call each other directly; the scheduler, orchestrator,
repository manager and web ingress only exchange typed messages, which
keeps them independently testable and free of lock-ordering concerns.

# Architecture

	Publisher ──► inbox (buffer: 128)
	                 │
	                 ▼
	           broadcast loop
	                 │
	      ┌──────────┼──────────┐
	      ▼          ▼          ▼
	  scheduler  orchestrator  repository   (buffer: 128 each)

Publishing never blocks: when a subscriber's queue is full the message
is dropped for that subscriber and an error is logged. Subscribers that
keep up see every message in publish order.

# Message Types

Messages form a closed set. Each type is a plain struct implementing
the Message marker interface:

	AddPackages        user wants these AUR packages tracked
	AddDependencies    like AddPackages, but marked as dependencies
	AddPackageURL      user wants a package from a clonable URL tracked
	RemovePackages     stop tracking and clean up
	BuildPackage       queue one build
	BuildSuccess       a build's artifacts are indexed
	BuildFailure       a build died or could not start
	ArtifactsUploaded  a worker's files are on disk, ready to index

Consumers type-switch on the message and ignore types they do not
handle.

# Usage

	broker := bus.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe("scheduler")
	broker.Publish(bus.BuildPackage{Package: "yay"})

	msg := <-sub.C()
*/
package bus
