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

package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fiapx/videoproc"
	"github.com/fiapx/videoproc/lib/defaults"
	"github.com/fiapx/videoproc/lib/eventbus"
	"github.com/fiapx/videoproc/lib/media"
	"github.com/fiapx/videoproc/lib/objectstore"
	"github.com/fiapx/videoproc/lib/queue"
	"github.com/fiapx/videoproc/lib/reconcile"
	"github.com/fiapx/videoproc/lib/repo"
	"github.com/fiapx/videoproc/lib/repo/memory"
	"github.com/fiapx/videoproc/lib/repo/postgres"
	"github.com/fiapx/videoproc/lib/upload"
	"github.com/fiapx/videoproc/lib/web"
	"github.com/fiapx/videoproc/lib/workers/completion"
	"github.com/fiapx/videoproc/lib/workers/frameworker"
	"github.com/fiapx/videoproc/lib/workers/splitworker"
)

// awsClients holds the AWS service clients of one process.
type awsClients struct {
	s3  *s3.Client
	sqs *sqs.Client
	sns *sns.Client
}

func newAWSClients(ctx context.Context, cfg *Config) (*awsClients, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.AWSEndpoint != "" {
		awscfg.BaseEndpoint = aws.String(cfg.AWSEndpoint)
	}

	return &awsClients{
		// Path-style addressing keeps bucket names out of the hostname so
		// LocalStack and MinIO resolve without wildcard DNS.
		s3: s3.NewFromConfig(awscfg, func(o *s3.Options) {
			o.UsePathStyle = true
		}),
		sqs: sqs.NewFromConfig(awscfg),
		sns: sns.NewFromConfig(awscfg),
	}, nil
}

func newRepository(ctx context.Context, cfg *Config) (repo.Repository, error) {
	if cfg.DatabaseURL == "" {
		cfg.Logger.WarnContext(ctx, "No database URL configured, using in-memory repository.")
		return memory.New(), nil
	}
	repository, err := postgres.New(ctx, postgres.Config{ConnString: cfg.DatabaseURL})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return repository, nil
}

func newPublisher(cfg *Config, clients *awsClients) (*eventbus.Publisher, error) {
	return eventbus.NewPublisher(eventbus.Config{
		TopicARN: cfg.TopicARN,
		SNS:      clients.sns,
		SQS:      clients.sqs,
		QueueURL: cfg.QueueURL,
	})
}

// RunAPI runs the HTTP upload coordinator until ctx is cancelled. When a
// completion queue is configured the S3 event consumer runs in the same
// process.
func RunAPI(ctx context.Context, cfg *Config) error {
	if cfg.VideoBucket == "" {
		return trace.BadParameter("missing %s", defaults.VideoBucketEnv)
	}

	clients, err := newAWSClients(ctx, cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	repository, err := newRepository(ctx, cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	defer repository.Close()

	events, err := newPublisher(cfg, clients)
	if err != nil {
		return trace.Wrap(err)
	}
	reconciler, err := reconcile.NewService(reconcile.Config{
		Repository: repository,
		Events:     events,
		Bucket:     cfg.VideoBucket,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	store, err := objectstore.NewStore(objectstore.Config{
		Bucket:           cfg.VideoBucket,
		Client:           clients.s3,
		Presigner:        s3.NewPresignClient(clients.s3),
		InternalEndpoint: cfg.AWSEndpoint,
		PublicEndpoint:   cfg.AWSPublicEndpoint,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	coordinator, err := upload.NewCoordinator(upload.Config{
		Repository: repository,
		Store:      store,
		Reconciler: reconciler,
		Bucket:     cfg.VideoBucket,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	handler, err := web.NewHandler(web.Config{
		Coordinator: coordinator,
		Repository:  repository,
		Logger:      cfg.Logger.With(videoproc.ComponentKey, videoproc.ComponentAPI),
	})
	if err != nil {
		return trace.Wrap(err)
	}

	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler,
		IdleTimeout: defaults.HTTPIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cfg.Logger.InfoContext(gctx, "API listening.", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return trace.Wrap(err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), defaults.HTTPShutdownTimeout)
		defer cancel()
		return trace.Wrap(server.Shutdown(shutdownCtx))
	})

	if cfg.S3EventsQueueURL != "" {
		completionHandler, err := completion.NewHandler(completion.Config{
			Repository: repository,
			Reconciler: reconciler,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		consumer, err := queue.NewConsumer(queue.ConsumerConfig[completion.Event]{
			QueueURL:  cfg.S3EventsQueueURL,
			Client:    clients.sqs,
			Handler:   completionHandler,
			Component: videoproc.ComponentCompletion,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		g.Go(func() error {
			return trace.Wrap(consumer.Run(gctx))
		})
	}

	return trace.Wrap(g.Wait())
}

// workerDeps are the shared dependencies of the media workers.
type workerDeps struct {
	clients    *awsClients
	repository repo.Repository
	blob       *objectstore.Blob
	ffmpeg     *media.FFmpeg
	events     *eventbus.Publisher
}

func newWorkerDeps(ctx context.Context, cfg *Config, component string) (*workerDeps, error) {
	if cfg.QueueURL == "" {
		return nil, trace.BadParameter("missing %s", defaults.SQSQueueURLEnv)
	}
	if cfg.OutputBucket == "" {
		return nil, trace.BadParameter("missing %s", defaults.S3OutputBucketEnv)
	}

	clients, err := newAWSClients(ctx, cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	repository, err := newRepository(ctx, cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	events, err := newPublisher(cfg, clients)
	if err != nil {
		repository.Close()
		return nil, trace.Wrap(err)
	}
	ffmpeg, err := media.NewFFmpeg(media.Config{})
	if err != nil {
		repository.Close()
		return nil, trace.Wrap(err)
	}

	return &workerDeps{
		clients:    clients,
		repository: repository,
		blob:       objectstore.NewBlobFromClient(clients.s3, cfg.Logger.With(videoproc.ComponentKey, component)),
		ffmpeg:     ffmpeg,
		events:     events,
	}, nil
}

// RunSplitWorker runs the segmenting consumer until ctx is cancelled.
func RunSplitWorker(ctx context.Context, cfg *Config) error {
	deps, err := newWorkerDeps(ctx, cfg, videoproc.ComponentSplitWorker)
	if err != nil {
		return trace.Wrap(err)
	}
	defer deps.repository.Close()

	handler, err := splitworker.NewHandler(splitworker.Config{
		Repository:      deps.repository,
		Blob:            deps.blob,
		Media:           deps.ffmpeg,
		Events:          deps.events,
		OutputBucket:    cfg.OutputBucket,
		InputBucket:     cfg.InputBucket,
		SegmentDuration: cfg.SegmentDuration,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	consumer, err := queue.NewConsumer(queue.ConsumerConfig[eventbus.StatusChangedEvent]{
		QueueURL:              cfg.QueueURL,
		Client:                deps.clients.sqs,
		Handler:               handler,
		Component:             videoproc.ComponentSplitWorker,
		Correlation:           handler.Correlation,
		OnPoison:              handler.OnPoison,
		PatternClassification: true,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(consumer.Run(ctx))
}

// RunFrameWorker runs the frame extracting consumer until ctx is cancelled.
func RunFrameWorker(ctx context.Context, cfg *Config) error {
	deps, err := newWorkerDeps(ctx, cfg, videoproc.ComponentFrameWorker)
	if err != nil {
		return trace.Wrap(err)
	}
	defer deps.repository.Close()

	handler, err := frameworker.NewHandler(frameworker.Config{
		Repository:      deps.repository,
		Blob:            deps.blob,
		Media:           deps.ffmpeg,
		Events:          deps.events,
		OutputBucket:    cfg.OutputBucket,
		InputBucket:     cfg.InputBucket,
		SegmentDuration: cfg.SegmentDuration,
		FrameInterval:   cfg.FrameInterval,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	consumer, err := queue.NewConsumer(queue.ConsumerConfig[eventbus.StatusChangedEvent]{
		QueueURL:              cfg.QueueURL,
		Client:                deps.clients.sqs,
		Handler:               handler,
		Component:             videoproc.ComponentFrameWorker,
		Correlation:           handler.Correlation,
		OnPoison:              handler.OnPoison,
		PatternClassification: true,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(consumer.Run(ctx))
}
