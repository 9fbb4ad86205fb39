package main

import (
	"context"
	"fmt"

	"github.com/davecheney/mention/internal/snowflake"
	"github.com/davecheney/mention/models"
)

type ProcessQueueCmd struct {
}

func (c *ProcessQueueCmd) Run(ctx *Context) error {
	svc, _, _, err := ctx.service()
	if err != nil {
		return err
	}
	n, err := svc.Verify(context.Background())
	if err != nil {
		return err
	}
	fmt.Println("verified", n, "webmentions")
	return nil
}

type SendCmd struct {
	ID         uint64 `arg:"" help:"id of the item or annotation"`
	Annotation bool   `help:"the id is of an annotation"`
}

func (c *SendCmd) Run(ctx *Context) error {
	svc, _, _, err := ctx.service()
	if err != nil {
		return err
	}
	owner := models.Owner{Type: models.OwnerItem, ID: snowflake.ID(c.ID)}
	if c.Annotation {
		owner.Type = models.OwnerAnnotation
	}
	return svc.Send(context.Background(), owner)
}

type ResendCmd struct {
	ID uint64 `arg:"" help:"id of the item"`
}

func (c *ResendCmd) Run(ctx *Context) error {
	svc, _, db, err := ctx.service()
	if err != nil {
		return err
	}
	item, err := models.NewItems(db).FindByID(snowflake.ID(c.ID))
	if err != nil {
		return err
	}
	scheduled, err := svc.Reschedule(context.Background(), item.Owner())
	if err != nil {
		return err
	}
	fmt.Println("item", item.ID, "scheduled:", scheduled)
	return nil
}

type CreateItemCmd struct {
	Type  string `help:"type of the item" default:"article"`
	Slug  string `required:"" help:"slug of the item"`
	Title string `help:"title of the item"`
	Body  string `required:"" help:"HTML body of the item"`
}

func (c *CreateItemCmd) Run(ctx *Context) error {
	db, err := ctx.open()
	if err != nil {
		return err
	}
	item, err := models.NewItems(db).Create(c.Type, c.Slug, c.Title, c.Body)
	if err != nil {
		return err
	}
	fmt.Println("created item", item.ID)
	return nil
}

type PublishCmd struct {
	ID uint64 `arg:"" help:"id of the item"`
}

func (c *PublishCmd) Run(ctx *Context) error {
	svc, _, db, err := ctx.service()
	if err != nil {
		return err
	}
	items := models.NewItems(db)
	item, err := items.FindByID(snowflake.ID(c.ID))
	if err != nil {
		return err
	}
	if err := items.Publish(item); err != nil {
		return err
	}
	return svc.OnPublished(context.Background(), item)
}

type TrashCmd struct {
	ID uint64 `arg:"" help:"id of the item"`
}

func (c *TrashCmd) Run(ctx *Context) error {
	svc, _, db, err := ctx.service()
	if err != nil {
		return err
	}
	items := models.NewItems(db)
	item, err := items.FindByID(snowflake.ID(c.ID))
	if err != nil {
		return err
	}
	if err := items.Trash(item); err != nil {
		return err
	}
	return svc.OnTrashed(context.Background(), item)
}

type ApproveCmd struct {
	ID uint64 `arg:"" help:"id of the annotation"`
}

func (c *ApproveCmd) Run(ctx *Context) error {
	svc, _, db, err := ctx.service()
	if err != nil {
		return err
	}
	annotations := models.NewAnnotations(db)
	annotation, err := annotations.FindByID(snowflake.ID(c.ID))
	if err != nil {
		return err
	}
	if annotation.Approved {
		return nil
	}
	if err := annotations.Approve(annotation); err != nil {
		return err
	}
	return svc.OnAnnotationApproved(context.Background(), annotation)
}
