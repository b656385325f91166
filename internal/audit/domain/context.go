package domain

import "context"

type actorKey struct{}

type clientKey struct{}

type Actor struct {
	Type string
	ID   string
}

type Client struct {
	IPAddress string
	UserAgent string
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok && actor.Type != ""
}

func WithClient(ctx context.Context, client Client) context.Context {
	return context.WithValue(ctx, clientKey{}, client)
}

func ClientFromContext(ctx context.Context) Client {
	client, _ := ctx.Value(clientKey{}).(Client)
	return client
}
