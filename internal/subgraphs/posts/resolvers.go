// Package posts is the posts subgraph: posts, likes and comments.
package posts

import (
	"context"
	_ "embed"

	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/internal/subgraphs"
)

//go:embed schema.graphql
var SDL string

// Services are the stores the posts subgraph reads and writes.
type Services struct {
	Posts    *services.PostService
	Likes    *services.LikeService
	Comments *services.CommentService
}

type resolvers struct {
	Services
}

// NewSchema builds the executable posts subgraph.
func NewSchema(svc Services) *graphql.Schema {
	r := &resolvers{Services: svc}

	return graphql.MustNewSchema(SDL).
		Resolve("Query", "posts", r.posts).
		Resolve("Query", "post", r.post).
		Resolve("Query", "myPosts", subgraphs.Authenticated(r.myPosts)).
		Resolve("Query", "likedPosts", subgraphs.Authenticated(r.likedPosts)).
		Resolve("Query", "likes", r.likes).
		Resolve("Query", "hasLiked", r.hasLiked).
		Resolve("Query", "comments", r.comments).
		Resolve("Query", "adminGetPosts", subgraphs.Admin(r.adminGetPosts)).
		Resolve("Query", "adminCountPosts", subgraphs.Admin(r.adminCountPosts)).
		Resolve("Mutation", "savePost", r.savePost).
		Resolve("Mutation", "removePost", r.removePost).
		Resolve("Mutation", "toggleLike", r.toggleLike).
		Resolve("Mutation", "createComment", r.createComment).
		Resolve("Mutation", "deleteComment", r.deleteComment).
		Resolve("Mutation", "adminRemovePost", subgraphs.Admin(r.adminRemovePost)).
		Resolve("Post", "author", r.postAuthor).
		Resolve("Post", "isAuthor", r.postIsAuthor).
		Resolve("Post", "hasLiked", r.postHasLiked).
		Resolve("Post", "comments", r.postComments).
		Resolve("Comment", "post", r.commentPost).
		Resolve("Comment", "author", r.commentAuthor).
		Resolve("Comment", "isAuthor", r.commentIsAuthor).
		Resolve("Like", "post", r.likePost).
		Resolve("Like", "user", r.likeUser).
		Resolve("LikeResult", "post", r.likeResultPost).
		Resolve("User", "posts", r.userPosts).
		ResolveReference("Post", r.postReference).
		ResolveReference("User", userReference)
}

func (r *resolvers) posts(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Posts.List(ctx, services.PostFilter{
		Search:  graphql.StringArg(p.Args, "search"),
		Subject: graphql.StringArg(p.Args, "subject"),
		Page:    subgraphs.Page(p.Args),
	})
}

func (r *resolvers) post(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Posts.FindByID(ctx, graphql.StringArg(p.Args, "id"))
}

func (r *resolvers) myPosts(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Posts.List(ctx, services.PostFilter{AuthorID: p.Request.UserID, Page: subgraphs.Page(p.Args)})
}

func (r *resolvers) likedPosts(ctx context.Context, p graphql.ResolveParams) (any, error) {
	ids, err := r.Likes.LikedPostIDs(ctx, p.Request.UserID, subgraphs.Page(p.Args))
	if err != nil {
		return nil, err
	}
	posts := make([]*models.Post, 0, len(ids))
	for _, id := range ids {
		post, err := r.Posts.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if post != nil {
			posts = append(posts, post)
		}
	}
	return posts, nil
}

func (r *resolvers) likes(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Likes.ListForPost(ctx, graphql.StringArg(p.Args, "postId"), subgraphs.Page(p.Args))
}

func (r *resolvers) hasLiked(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Likes.HasLiked(ctx, p.Request.UserID, graphql.StringArg(p.Args, "postId"))
}

func (r *resolvers) comments(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Comments.ListForPost(ctx, graphql.StringArg(p.Args, "postId"), subgraphs.Page(p.Args))
}

func (r *resolvers) adminGetPosts(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Posts.List(ctx, services.PostFilter{
		Search: graphql.StringArg(p.Args, "search"),
		Page:   subgraphs.Page(p.Args),
	})
}

func (r *resolvers) adminCountPosts(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Posts.Count(ctx, services.PostFilter{Search: graphql.StringArg(p.Args, "search")})
}

func (r *resolvers) savePost(ctx context.Context, p graphql.ResolveParams) (any, error) {
	var input services.SavePostInput
	if err := graphql.DecodeArg(p.Args, "input", &input); err != nil {
		return nil, err
	}
	return r.Posts.Save(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id"), input)
}

func (r *resolvers) removePost(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return subgraphs.Done(r.Posts.Remove(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id")))
}

func (r *resolvers) adminRemovePost(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return subgraphs.Done(r.Posts.AdminRemove(ctx, graphql.StringArg(p.Args, "id")))
}

func (r *resolvers) toggleLike(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Likes.Toggle(ctx, p.Request.UserID, graphql.StringArg(p.Args, "postId"))
}

func (r *resolvers) createComment(ctx context.Context, p graphql.ResolveParams) (any, error) {
	var input services.CreateCommentInput
	if err := graphql.DecodeArg(p.Args, "input", &input); err != nil {
		return nil, err
	}
	return r.Comments.Create(ctx, p.Request.UserID, input)
}

func (r *resolvers) deleteComment(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return subgraphs.Done(r.Comments.Delete(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id")))
}

func (r *resolvers) postAuthor(_ context.Context, p graphql.ResolveParams) (any, error) {
	return graphql.Ref("User", p.Source.(*models.Post).AuthorID), nil
}

func (r *resolvers) postIsAuthor(_ context.Context, p graphql.ResolveParams) (any, error) {
	return p.Request.UserID != "" && p.Source.(*models.Post).AuthorID == p.Request.UserID, nil
}

func (r *resolvers) postHasLiked(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Likes.HasLiked(ctx, p.Request.UserID, p.Source.(*models.Post).ID)
}

func (r *resolvers) postComments(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Comments.ListForPost(ctx, p.Source.(*models.Post).ID, subgraphs.Page(p.Args))
}

func (r *resolvers) commentPost(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Posts.FindByID(ctx, p.Source.(*models.Comment).PostID)
}

func (r *resolvers) commentAuthor(_ context.Context, p graphql.ResolveParams) (any, error) {
	return graphql.Ref("User", p.Source.(*models.Comment).AuthorID), nil
}

func (r *resolvers) commentIsAuthor(_ context.Context, p graphql.ResolveParams) (any, error) {
	return p.Request.UserID != "" && p.Source.(*models.Comment).AuthorID == p.Request.UserID, nil
}

func (r *resolvers) likePost(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Posts.FindByID(ctx, p.Source.(*models.Like).PostID)
}

func (r *resolvers) likeUser(_ context.Context, p graphql.ResolveParams) (any, error) {
	return graphql.Ref("User", p.Source.(*models.Like).UserID), nil
}

func (r *resolvers) likeResultPost(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Posts.FindByID(ctx, p.Source.(*services.ToggleLikeResult).PostID)
}

// userPosts backs the User.posts extension field.
func (r *resolvers) userPosts(ctx context.Context, p graphql.ResolveParams) (any, error) {
	user, ok := p.Source.(*graphql.Reference)
	if !ok {
		return []models.Post{}, nil
	}
	return r.Posts.List(ctx, services.PostFilter{AuthorID: user.ID, Page: subgraphs.Page(p.Args)})
}

func (r *resolvers) postReference(ctx context.Context, _ reqctx.RequestContext, ref graphql.Reference) (any, error) {
	return r.Posts.FindByID(ctx, ref.ID)
}

// userReference answers for users without a lookup; the users subgraph owns the
// remaining fields.
func userReference(_ context.Context, _ reqctx.RequestContext, ref graphql.Reference) (any, error) {
	return &ref, nil
}
