package rpc

import (
	"promptory/internal/authz"
	"promptory/internal/metrics"
	"promptory/internal/realtime"
	"promptory/internal/services"
	"promptory/internal/store"
)

type idInput struct {
	ID string `json:"id"`
}

type userInput struct {
	UserID string `json:"userId"`
}

type latestInput struct {
	Limit int `json:"limit"`
}

type promptRef struct {
	PromptID string `json:"promptId"`
}

type collectionRef struct {
	CollectionID string `json:"collectionId"`
}

// Stats is the admin.stats result.
type Stats struct {
	Procedures []metrics.Stat `json:"procedures"`
	Counts     store.Counts   `json:"counts"`
}

func bind[T any](c *Call) (T, error) {
	var in T
	err := c.Bind(&in)
	return in, err
}

func capability(c authz.Capability) *authz.Capability {
	return &c
}

var (
	promptReads     = []string{realtime.TablePrompts, realtime.TableLikes}
	collectionReads = []string{realtime.TableCollections, realtime.TableCollectionLikes, realtime.TableCollectionPrompts}
	collectionWrite = []string{realtime.TableCollections, realtime.TableCollectionPrompts, realtime.TableCollectionLikes}
	promptDelete    = []string{realtime.TablePrompts, realtime.TableLikes, realtime.TableCollections, realtime.TableCollectionPrompts}
)

// Procedures builds the full procedure table over svc. rec feeds admin.stats
// and may be nil.
func Procedures(svc *services.Services, rec *metrics.Recorder) []Procedure {
	return append(append(promptProcedures(svc.Prompts), collectionProcedures(svc.Collections)...),
		accountProcedures(svc, rec)...)
}

func promptProcedures(ps *services.PromptService) []Procedure {
	return []Procedure{
		{Name: "prompt.list", Kind: Query, Tables: promptReads, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.PromptListInput](c)
			if err != nil {
				return nil, err
			}
			return ps.List(c.Ctx, in)
		}},
		{Name: "prompt.latest", Kind: Query, Tables: promptReads, Handle: func(c *Call) (interface{}, error) {
			in := latestInput{Limit: 6}
			if err := c.Bind(&in); err != nil {
				return nil, err
			}
			return ps.Latest(c.Ctx, in.Limit)
		}},
		{Name: "prompt.mine", Kind: Query, Tables: promptReads, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[userInput](c)
			if err != nil {
				return nil, err
			}
			if in.UserID == "" {
				in.UserID = c.Who.UserID
			}
			return ps.ByUser(c.Ctx, in.UserID)
		}},
		{Name: "prompt.liked", Kind: Query, Tables: promptReads, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[userInput](c)
			if err != nil {
				return nil, err
			}
			if in.UserID == "" {
				in.UserID = c.Who.UserID
			}
			return ps.LikedBy(c.Ctx, in.UserID)
		}},
		{Name: "prompt.categories", Kind: Query, Tables: []string{"categories"}, Handle: func(c *Call) (interface{}, error) {
			return ps.Categories(c.Ctx)
		}},
		{Name: "prompt.byId", Kind: Query, Tables: promptReads, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[idInput](c)
			if err != nil {
				return nil, err
			}
			return ps.Get(c.Ctx, in.ID)
		}},
		{Name: "prompt.likeStatus", Kind: Query, Tables: []string{realtime.TableLikes}, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[promptRef](c)
			if err != nil {
				return nil, err
			}
			return ps.LikeStatus(c.Ctx, c.Who, in.PromptID)
		}},
		{Name: "prompt.create", Kind: Mutation, Require: capability(authz.Authenticated), Tables: []string{realtime.TablePrompts}, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.CreatePromptInput](c)
			if err != nil {
				return nil, err
			}
			return ps.Create(c.Ctx, c.Who, in)
		}},
		{Name: "prompt.update", Kind: Mutation, Require: capability(authz.Authenticated), Tables: []string{realtime.TablePrompts}, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.UpdatePromptInput](c)
			if err != nil {
				return nil, err
			}
			return ps.Update(c.Ctx, c.Who, in)
		}},
		{Name: "prompt.delete", Kind: Mutation, Require: capability(authz.Authenticated), Tables: promptDelete, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[idInput](c)
			if err != nil {
				return nil, err
			}
			return ps.Delete(c.Ctx, c.Who, in.ID)
		}},
		{Name: "prompt.toggleLike", Kind: Mutation, Require: capability(authz.Authenticated), Tables: []string{realtime.TableLikes}, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[promptRef](c)
			if err != nil {
				return nil, err
			}
			return ps.ToggleLike(c.Ctx, c.Who, in.PromptID)
		}},
		{Name: "prompt.adminList", Kind: Query, Require: capability(authz.AdminPrompts), Tables: promptReads, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.AdminPromptListInput](c)
			if err != nil {
				return nil, err
			}
			return ps.AdminList(c.Ctx, c.Who, in)
		}},
		{Name: "prompt.adminUpdate", Kind: Mutation, Require: capability(authz.AdminPrompts), Tables: []string{realtime.TablePrompts}, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.UpdatePromptInput](c)
			if err != nil {
				return nil, err
			}
			return ps.AdminUpdate(c.Ctx, c.Who, in)
		}},
		{Name: "prompt.adminDelete", Kind: Mutation, Require: capability(authz.AdminPrompts), Tables: promptDelete, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[idInput](c)
			if err != nil {
				return nil, err
			}
			return ps.AdminDelete(c.Ctx, c.Who, in.ID)
		}},
		{Name: "prompt.adminDeleteMany", Kind: Mutation, Require: capability(authz.AdminPrompts), Tables: promptDelete, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.IDsInput](c)
			if err != nil {
				return nil, err
			}
			return ps.AdminDeleteMany(c.Ctx, c.Who, in)
		}},
	}
}

func collectionProcedures(cs *services.CollectionService) []Procedure {
	return []Procedure{
		{Name: "collection.list", Kind: Query, Tables: collectionReads, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.CollectionListInput](c)
			if err != nil {
				return nil, err
			}
			return cs.List(c.Ctx, c.Who, in)
		}},
		{Name: "collection.mine", Kind: Query, Require: capability(authz.Authenticated), Tables: collectionReads, Handle: func(c *Call) (interface{}, error) {
			return cs.Mine(c.Ctx, c.Who)
		}},
		{Name: "collection.categories", Kind: Query, Tables: []string{"collection_categories"}, Handle: func(c *Call) (interface{}, error) {
			return cs.Categories(c.Ctx)
		}},
		// byId bumps view_count, so it is never served from cache.
		{Name: "collection.byId", Kind: Query, NoCache: true, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[idInput](c)
			if err != nil {
				return nil, err
			}
			return cs.Get(c.Ctx, c.Who, in.ID)
		}},
		{Name: "collection.likeStatus", Kind: Query, Tables: collectionReads, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[collectionRef](c)
			if err != nil {
				return nil, err
			}
			return cs.LikeStatus(c.Ctx, c.Who, in.CollectionID)
		}},
		{Name: "collection.create", Kind: Mutation, Require: capability(authz.Authenticated), Tables: collectionWrite, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.CreateCollectionInput](c)
			if err != nil {
				return nil, err
			}
			return cs.Create(c.Ctx, c.Who, in)
		}},
		{Name: "collection.update", Kind: Mutation, Require: capability(authz.Authenticated), Tables: collectionWrite, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.UpdateCollectionInput](c)
			if err != nil {
				return nil, err
			}
			return cs.Update(c.Ctx, c.Who, in)
		}},
		{Name: "collection.delete", Kind: Mutation, Require: capability(authz.Authenticated), Tables: collectionWrite, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[idInput](c)
			if err != nil {
				return nil, err
			}
			return cs.Delete(c.Ctx, c.Who, in.ID)
		}},
		{Name: "collection.addPrompt", Kind: Mutation, Require: capability(authz.Authenticated), Tables: collectionWrite, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.AddPromptInput](c)
			if err != nil {
				return nil, err
			}
			return cs.AddPrompt(c.Ctx, c.Who, in)
		}},
		{Name: "collection.removePrompt", Kind: Mutation, Require: capability(authz.Authenticated), Tables: collectionWrite, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.RemovePromptInput](c)
			if err != nil {
				return nil, err
			}
			return cs.RemovePrompt(c.Ctx, c.Who, in)
		}},
		{Name: "collection.toggleLike", Kind: Mutation, Require: capability(authz.Authenticated), Tables: collectionWrite, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[collectionRef](c)
			if err != nil {
				return nil, err
			}
			return cs.ToggleLike(c.Ctx, c.Who, in.CollectionID)
		}},
		{Name: "collection.adminList", Kind: Query, Require: capability(authz.AdminCollections), Tables: collectionReads, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.AdminCollectionListInput](c)
			if err != nil {
				return nil, err
			}
			return cs.AdminList(c.Ctx, c.Who, in)
		}},
		{Name: "collection.adminUpdate", Kind: Mutation, Require: capability(authz.AdminCollections), Tables: collectionWrite, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.AdminUpdateCollectionInput](c)
			if err != nil {
				return nil, err
			}
			return cs.AdminUpdate(c.Ctx, c.Who, in)
		}},
		{Name: "collection.adminDelete", Kind: Mutation, Require: capability(authz.AdminCollections), Tables: collectionWrite, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[idInput](c)
			if err != nil {
				return nil, err
			}
			return cs.AdminDelete(c.Ctx, c.Who, in.ID)
		}},
		{Name: "collection.adminDeleteMany", Kind: Mutation, Require: capability(authz.AdminCollections), Tables: collectionWrite, Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.IDsInput](c)
			if err != nil {
				return nil, err
			}
			return cs.AdminDeleteMany(c.Ctx, c.Who, in)
		}},
	}
}

func accountProcedures(svc *services.Services, rec *metrics.Recorder) []Procedure {
	return []Procedure{
		{Name: "profile.me", Kind: Query, Require: capability(authz.Authenticated), NoCache: true, Handle: func(c *Call) (interface{}, error) {
			return svc.Accounts.Me(c.Ctx, c.Who)
		}},
		{Name: "profile.updateNickname", Kind: Mutation, Require: capability(authz.Authenticated), Handle: func(c *Call) (interface{}, error) {
			in, err := bind[services.NicknameInput](c)
			if err != nil {
				return nil, err
			}
			return svc.Accounts.UpdateNickname(c.Ctx, c.Who, in)
		}},
		{Name: "admin.stats", Kind: Query, Require: capability(authz.AdminPrompts), NoCache: true, Handle: func(c *Call) (interface{}, error) {
			counts, err := svc.Admin.Counts(c.Ctx, c.Who)
			if err != nil {
				return nil, err
			}
			stats := &Stats{Procedures: []metrics.Stat{}, Counts: counts}
			if rec != nil {
				stats.Procedures = rec.Snapshot()
			}
			return stats, nil
		}},
	}
}
