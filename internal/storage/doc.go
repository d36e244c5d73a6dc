/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package storage implements game project persistence.
// A project directory holds the scenario table (scenario.csv), the game
// metadata (config.yml) and the assets referenced by scenes. Metadata and
// scenario writes are transactional and keep timestamped backups.
// Player save slots and autosaves live in an embedded SQLite database at
// <project>/.lsc/saves.sqlite; the payload of every save is a playback
// snapshot in its JSON wire form.
package storage
