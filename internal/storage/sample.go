/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import "luminascript/internal/scenario"

// SampleRows returns the starter scenario written by InitProject: one
// chapter with a title, two lines of dialogue, a two-way choice and an
// ending both routes arrive at.
func SampleRows() []scenario.Row {
	return []scenario.Row{
		{SceneID: "1-T", Text: "Chapter One: A New Morning", BackgroundImage: "bg_1_morning_bed.png"},
		{SceneID: "1-1", PersonName: "Takumi", Text: "Good morning!\nSleeping in again today?", BackgroundImage: "bg_1_morning_bed.png"},
		{SceneID: "1-2", PersonName: "Astrolabe", Text: "So what if I am.\nIt's not like I have school or work to get to.",
			BackgroundImage: "bg_myroom_1.png", CenterPortrait: "sp_astrolabe_jitome.png"},
		{SceneID: "1-Q", Text: "A Actually, I start school today!\nB Fair enough.", BackgroundImage: "bg_myroom_1.png"},
		{SceneID: "1-A-1", PersonName: "Takumi", Text: "There's something I have to tell you.\nStarting today, you...", BackgroundImage: "bg_myroom_1.png"},
		{SceneID: "1-A-2", PersonName: "Astrolabe", Text: "*gulp*", BackgroundImage: "bg_myroom_1.png",
			LeftPortrait: "sp_amanamitakumi_smile.png", RightPortrait: "sp_astrolabe_jitome.png"},
		{SceneID: "1-A-3", PersonName: "Takumi", Text: "...are going to school!", BackgroundImage: "bg_myroom_1.png",
			LeftPortrait: "sp_amanamitakumi_smile.png"},
		{SceneID: "1-B-1", PersonName: "Takumi", Text: "Sure, sure.\nBut how about giving school a try?", BackgroundImage: "bg_myroom_1.png",
			LeftPortrait: "sp_amanamitakumi_nigawarai.png"},
		{SceneID: "1-B-2", PersonName: "Astrolabe", Text: "Sounds like a hassle.", BackgroundImage: "bg_myroom_1.png",
			LeftPortrait: "sp_amanamitakumi_ase.png", RightPortrait: "sp_astrolabe_jitome.png"},
		{SceneID: "1-B-3", PersonName: "Takumi", Text: "Come on, please!\nSchool is fun, you know?", BackgroundImage: "bg_myroom_1.png",
			LeftPortrait: "sp_amanamitakumi_ase.png", RightPortrait: "sp_astrolabe_jitome.png"},
		{SceneID: "1-E", Text: "End of Chapter One"},
	}
}
