package rest

import "github.com/gin-gonic/gin"

// Register mounts the character and cooperative score routes on r.
func Register(r gin.IRoutes, chars *CharacterHandler, coops *CooperativeHandler) {
	r.POST("/save_character", chars.Save)
	r.POST("/check_character_exists", chars.CheckExists)
	r.GET("/get_character/:name", chars.Get)
	r.GET("/get_all_characters", chars.List)
	r.GET("/get_all_characters_with_highest_score", chars.ListWithScores)
	r.POST("/save_solo_score", chars.SaveSoloScore)

	r.POST("/save_cooperative_players", coops.Save)
	r.GET("/get_cooperative_players_with_details", coops.ListWithDetails)
	r.GET("/get_cooperative_pair", coops.GetPair)
	r.GET("/get_top_three_cooperative_players", coops.TopThree)
	r.GET("/get_top_cooperative_players", coops.Top)
}
