/*
 * FIAP X Video Processor
 * Copyright (C) 2025  FIAP X
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package videoproc holds constants shared across the video processor
// components.
package videoproc

const (
	// ComponentKey is the name of the log attribute identifying the component.
	ComponentKey = "component"

	// ComponentAPI is the HTTP-facing upload coordinator process.
	ComponentAPI = "api"

	// ComponentCoordinator is the upload coordinator use-case layer.
	ComponentCoordinator = "coordinator"

	// ComponentConsumer is the generic queue consumer runtime.
	ComponentConsumer = "consumer"

	// ComponentSplitWorker is the worker that splits videos into segments.
	ComponentSplitWorker = "split-worker"

	// ComponentFrameWorker is the worker that extracts frames from segments.
	ComponentFrameWorker = "frame-worker"

	// ComponentCompletion is the consumer of object store completion events.
	ComponentCompletion = "completion"

	// ComponentReconcile is the idempotent status reconciler.
	ComponentReconcile = "reconcile"

	// ComponentEventBus is the status event publisher.
	ComponentEventBus = "eventbus"

	// ComponentObjectStore is the object store adapter.
	ComponentObjectStore = "objectstore"

	// ComponentRepository is the video repository.
	ComponentRepository = "repository"
)

const (
	// MetricNamespace is the prometheus namespace of all exported metrics.
	MetricNamespace = "videoproc"

	// EventSource identifies this system on the event bus.
	EventSource = "fiapx.video"

	// EventDetailType is the detail type of video lifecycle events.
	EventDetailType = "Video Status Changed"

	// EventVersion is the current version of the event envelope.
	EventVersion = "1"
)

const (
	// CorrelationIDHeader carries the request correlation ID.
	CorrelationIDHeader = "x-correlation-id"

	// TraceparentHeader carries the W3C trace context.
	TraceparentHeader = "traceparent"
)
